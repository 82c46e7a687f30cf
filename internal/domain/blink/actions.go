package blink

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
)

const (
	defaultActionTitle       = "Actions Example - Transfer Native SOL"
	defaultActionDescription = "Transfer SOL to another Solana wallet"
	defaultActionLabel       = "Transfer"
	defaultActionIcon        = "/solana-token.png"
)

// ErrInvalidLink indicates a blink whose link field is not an action definition.
var ErrInvalidLink = eris.New("blink link is not a valid action definition")

// Action is the metadata an action-aware client renders for a blink.
type Action struct {
	Type        string
	Title       string
	Icon        string
	Description string
	Label       string
	Links       []LinkedAction
}

// LinkedAction is one button of an action.
type LinkedAction struct {
	Label      string
	Href       string
	Parameters []ActionParameter
}

// ActionParameter is a user supplied input of a linked action.
type ActionParameter struct {
	Name     string
	Label    string
	Required bool
}

// BuildAction expands a blink into action metadata. The link field holds
// {"a":[{"value":N},...],"m":bool}: each value becomes a fixed-amount transfer and m adds
// a free-form amount. Hrefs are appended to baseHref, which already carries a query.
func BuildAction(b Blink, baseHref, origin string) (*Action, error) {
	if !gjson.Valid(b.Link) {
		return nil, eris.Wrapf(ErrInvalidLink, "blink %q", b.ID)
	}

	parsed := gjson.Parse(b.Link)
	amounts := parsed.Get("a")
	if amounts.Exists() && !amounts.IsArray() {
		return nil, eris.Wrapf(ErrInvalidLink, "blink %q: field a must be an array", b.ID)
	}

	var links []LinkedAction
	for _, entry := range amounts.Array() {
		value := entry.Get("value")
		if value.Type != gjson.Number {
			return nil, eris.Wrapf(ErrInvalidLink, "blink %q: action value %q is not a number", b.ID, entry.Raw)
		}
		amount := strconv.FormatFloat(value.Float(), 'f', -1, 64)
		links = append(links, LinkedAction{
			Label: "Send " + amount + " SOL",
			Href:  baseHref + "&amount=" + amount,
		})
	}

	if parsed.Get("m").Bool() {
		links = append(links, LinkedAction{
			Label: "Send SOL",
			Href:  baseHref + "&amount={amount}",
			Parameters: []ActionParameter{{
				Name:     "amount",
				Label:    "Enter the amount of SOL to send",
				Required: true,
			}},
		})
	}

	return &Action{
		Type:        "action",
		Title:       fallback(b.Title, defaultActionTitle),
		Icon:        fallback(b.Icon, strings.TrimSuffix(origin, "/")+defaultActionIcon),
		Description: fallback(b.Description, defaultActionDescription),
		Label:       fallback(b.Label, defaultActionLabel),
		Links:       links,
	}, nil
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}
