package settings

import (
	"strconv"
	"strings"
)

// Placeholders are substituted in the welcome message, embed title and embed description.
type Placeholders struct {
	// Server is the guild name, {server}.
	Server string
	// UserMention mentions the member who joined, {user_mention}.
	UserMention string
	// MemberCount is the number of guild members, {member_count}.
	MemberCount int
}

// Render substitutes the placeholders in text. Unknown placeholders are left as they are.
func (p Placeholders) Render(text string) string {
	return strings.NewReplacer(
		"{server}", p.Server,
		"{user_mention}", p.UserMention,
		"{member_count}", strconv.Itoa(p.MemberCount),
	).Replace(text)
}
