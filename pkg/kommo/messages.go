package kommo

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/apexsales/leadscore/internal/model"
)

// GetLeadMessages walks lead -> contacts -> chats -> talks to collect the
// full message history. When any step of the walk fails it falls back to
// the coarse event feed, mapping communication event types to readable
// activity lines.
func (c *httpClient) GetLeadMessages(ctx context.Context, id int) ([]model.Message, error) {
	msgs, err := c.fetchChatMessages(ctx, id)
	if err == nil && len(msgs) > 0 {
		return msgs, nil
	}
	if err != nil {
		zap.L().Debug("kommo: chat walk failed, using event fallback",
			zap.Int("lead_id", id),
			zap.Error(err),
		)
	}
	return c.fetchEventMessages(ctx, id)
}

func (c *httpClient) fetchChatMessages(ctx context.Context, id int) ([]model.Message, error) {
	lead, err := c.GetLead(ctx, id, "contacts")
	if err != nil {
		return nil, err
	}
	if lead.Embedded == nil || len(lead.Embedded.Contacts) == 0 {
		return nil, nil
	}

	var all []model.Message
	for _, contact := range lead.Embedded.Contacts {
		var chats struct {
			Embedded struct {
				Chats []struct {
					ID string `json:"id"`
				} `json:"chats"`
			} `json:"_embedded"`
		}
		if err := c.get(ctx, fmt.Sprintf("/contacts/%d/chats", contact.ID), nil, &chats); err != nil {
			zap.L().Debug("kommo: contact chats fetch failed",
				zap.Int("contact_id", contact.ID),
				zap.Error(err),
			)
			continue
		}

		for _, chat := range chats.Embedded.Chats {
			var talk struct {
				Embedded struct {
					Messages []struct {
						ID        int    `json:"id"`
						Text      string `json:"text"`
						Message   string `json:"message"`
						Type      string `json:"type"`
						CreatedAt int64  `json:"created_at"`
						Author    *struct {
							ID int `json:"id"`
						} `json:"author"`
					} `json:"messages"`
				} `json:"_embedded"`
			}
			if err := c.get(ctx, "/talks/"+url.PathEscape(chat.ID), nil, &talk); err != nil {
				zap.L().Debug("kommo: talk fetch failed",
					zap.String("chat_id", chat.ID),
					zap.Error(err),
				)
				continue
			}

			for _, m := range talk.Embedded.Messages {
				text := m.Text
				if text == "" {
					text = m.Message
				}
				if text == "" {
					text = "Message (no text)"
				}
				msgType := m.Type
				if msgType == "" {
					msgType = "message"
				}
				incoming := m.Author != nil && m.Author.ID != lead.ResponsibleUserID
				all = append(all, model.Message{
					ID:        m.ID,
					Text:      text,
					Type:      msgType,
					CreatedAt: m.CreatedAt,
					Incoming:  incoming,
				})
			}
		}
	}
	return all, nil
}

// communicationEventText maps a Kommo event type to a readable activity
// line; "" means the event is not a communication event.
func communicationEventText(eventType string) string {
	switch eventType {
	case "incoming_chat_message":
		return "Incoming message from client"
	case "outgoing_chat_message":
		return "Outgoing message to client"
	case "incoming_call":
		return "Incoming call from client"
	case "outgoing_call":
		return "Outgoing call to client"
	case "call_completed":
		return "Call completed"
	case "sms_added":
		return "SMS sent"
	case "email_added":
		return "Email sent"
	default:
		return ""
	}
}

func (c *httpClient) fetchEventMessages(ctx context.Context, id int) ([]model.Message, error) {
	q := url.Values{}
	q.Set("filter[lead_id]", strconv.Itoa(id))

	var resp struct {
		Embedded struct {
			Events []struct {
				ID        int    `json:"id"`
				Type      string `json:"type"`
				CreatedAt int64  `json:"created_at"`
			} `json:"events"`
		} `json:"_embedded"`
	}
	if err := c.get(ctx, "/events", q, &resp); err != nil {
		return nil, eris.Wrapf(err, "kommo: lead %d event fallback", id)
	}

	var msgs []model.Message
	for _, ev := range resp.Embedded.Events {
		text := communicationEventText(ev.Type)
		if text == "" {
			continue
		}
		msgs = append(msgs, model.Message{
			ID:        ev.ID,
			Text:      text,
			Type:      ev.Type,
			CreatedAt: ev.CreatedAt,
			Incoming:  strings.HasPrefix(ev.Type, "incoming_"),
		})
	}
	return msgs, nil
}

// GetLeadNotes probes the note endpoint shapes Kommo has shipped over
// time; the first one returning a non-empty set wins. Returns an empty
// slice when every endpoint fails or is empty.
func (c *httpClient) GetLeadNotes(ctx context.Context, id int) ([]model.Note, error) {
	leadID := strconv.Itoa(id)
	endpoints := []string{
		"/leads/" + leadID + "/notes",
		"/notes?filter[lead_id]=" + leadID,
		"/leads/" + leadID + "/events",
		"/events?filter[lead_id]=" + leadID,
	}

	for _, endpoint := range endpoints {
		path := endpoint
		var q url.Values
		if i := strings.IndexByte(endpoint, '?'); i >= 0 {
			path = endpoint[:i]
			parsed, err := url.ParseQuery(endpoint[i+1:])
			if err != nil {
				continue
			}
			q = parsed
		}

		var resp struct {
			Embedded struct {
				Notes  []model.Note `json:"notes"`
				Events []model.Note `json:"events"`
			} `json:"_embedded"`
		}
		if err := c.get(ctx, path, q, &resp); err != nil {
			zap.L().Debug("kommo: note endpoint failed",
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
			continue
		}

		notes := resp.Embedded.Notes
		if len(notes) == 0 {
			notes = resp.Embedded.Events
		}
		if len(notes) > 0 {
			return notes, nil
		}
	}
	return nil, nil
}
