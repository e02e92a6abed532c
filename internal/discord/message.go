// Package discord holds the webhook payload model sent to Discord.
package discord

// Message is the top-level webhook payload.
type Message struct {
	AvatarURL string  `json:"avatar_url,omitempty"`
	Username  string  `json:"username,omitempty"`
	Content   string  `json:"content,omitempty"`
	Embeds    []Embed `json:"embeds,omitempty"`
}

// Embed is a rich content block. Color is a 24-bit RGB value; nil omits it.
type Embed struct {
	Color       *int       `json:"color,omitempty"`
	Title       string     `json:"title,omitempty"`
	URL         string     `json:"url,omitempty"`
	Description string     `json:"description,omitempty"`
	Thumbnail   *Thumbnail `json:"thumbnail,omitempty"`
	Fields      []Field    `json:"fields,omitempty"`
	Footer      *Footer    `json:"footer,omitempty"`
	Timestamp   string     `json:"timestamp,omitempty"`
}

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type Footer struct {
	Text    string `json:"text,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

type Thumbnail struct {
	URL string `json:"url,omitempty"`
}

// Color returns a pointer suitable for Embed.Color.
func Color(rgb int) *int { return &rgb }

// FirstEmbed returns the first embed, or false when the message has none.
func (m Message) FirstEmbed() (Embed, bool) {
	if len(m.Embeds) == 0 {
		return Embed{}, false
	}
	return m.Embeds[0], true
}
