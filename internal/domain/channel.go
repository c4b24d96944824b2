package domain

type (
	ChannelID int
	ClientID  int
)

// Channel is one voice channel as listed by the session source.
type Channel struct {
	ID        ChannelID `json:"id"`
	Name      string    `json:"name"`
	IsDefault bool      `json:"is_default"`
}

// Client is a connected voice user. Query and service connections are
// filtered out by the session client before they reach this type.
type Client struct {
	ID        ClientID  `json:"id"`
	Nickname  string    `json:"nickname"`
	ChannelID ChannelID `json:"channel_id"`
}
