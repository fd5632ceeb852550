package discordapi

// Interaction wire types, kept to the subset this bot handles.
// https://discord.com/developers/docs/interactions/receiving-and-responding

const (
	InteractionTypePing    = 1
	InteractionTypeCommand = 2
)

const (
	ResponseTypePong     = 1
	ResponseTypeDeferred = 5 // deferred channel message; completed via followup edit
)

type InteractionOption struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type InteractionData struct {
	Name    string              `json:"name"`
	Options []InteractionOption `json:"options"`
}

type InteractionMember struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
}

type Interaction struct {
	Type          int               `json:"type"`
	ApplicationID string            `json:"application_id"`
	Token         string            `json:"token"`
	Data          InteractionData   `json:"data"`
	Member        InteractionMember `json:"member"`
}

type InteractionResponse struct {
	Type int                      `json:"type"`
	Data *InteractionResponseData `json:"data,omitempty"`
}

type InteractionResponseData struct {
	Content string `json:"content"`
}

// FirstOption returns the first option value, or "" when the command has none.
func (i *Interaction) FirstOption() string {
	if len(i.Data.Options) == 0 {
		return ""
	}
	return i.Data.Options[0].Value
}
