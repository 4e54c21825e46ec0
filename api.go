package lettings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/panyam/lettings/client"
)

// DocumentField is the multipart field carrying an uploaded document
const DocumentField = "file"

// API is the typed marketplace API. JSON calls go through the JSON client and
// uploads through the multipart client; both share one Authenticator.
type API struct {
	json *client.AuthClient
	form *client.AuthClient
}

// NewAPI creates the facade over a client pair
func NewAPI(c client.Clients) *API {
	return &API{json: c.JSON, form: c.Form}
}

// SearchProperties runs a property search
func (a *API) SearchProperties(ctx context.Context, q PropertySearch) (*Page[Property], error) {
	var page Page[Property]
	if err := a.json.GetJSON(ctx, "/properties", q.Values(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetProperty fetches one listing
func (a *API) GetProperty(ctx context.Context, id string) (*Property, error) {
	var p Property
	if err := a.json.GetJSON(ctx, "/properties/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListApplications lists the applicant's applications
func (a *API) ListApplications(ctx context.Context) ([]Application, error) {
	items, err := a.list(ctx, "/applications", nil)
	if err != nil {
		return nil, err
	}
	out := make([]Application, 0, len(items))
	for _, item := range items {
		app, err := NormalizeApplication(item)
		if err != nil {
			return nil, err
		}
		out = append(out, *app)
	}
	return out, nil
}

// GetApplication fetches one application
func (a *API) GetApplication(ctx context.Context, id string) (*Application, error) {
	return a.application(ctx, &client.Request{Method: http.MethodGet, Path: applicationPath(id)})
}

// CreateApplication starts a draft application for a property
func (a *API) CreateApplication(ctx context.Context, propertyID string) (*Application, error) {
	return a.application(ctx, &client.Request{
		Method: http.MethodPost,
		Path:   "/applications",
		Body:   map[string]any{"property_id": propertyID},
	})
}

// SaveApplicationStep stores the fields of one step of the application form.
// fields uses the application's JSON names (applicant, guarantor, ...).
func (a *API) SaveApplicationStep(ctx context.Context, id string, step int, fields map[string]any) (*Application, error) {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["step"] = step
	return a.application(ctx, &client.Request{Method: http.MethodPatch, Path: applicationPath(id), Body: body})
}

// SubmitApplication hands a draft application over for review
func (a *API) SubmitApplication(ctx context.Context, id string) (*Application, error) {
	return a.application(ctx, &client.Request{Method: http.MethodPost, Path: applicationPath(id) + "/submit"})
}

// UploadDocument attaches a file to an application
func (a *API) UploadDocument(ctx context.Context, applicationID, category, name, contentType string, data []byte) (*Document, error) {
	form := &client.Form{
		Fields: map[string]string{"category": category},
		Files: []client.FormFile{{
			Field:       DocumentField,
			Name:        name,
			ContentType: contentType,
			Data:        data,
		}},
	}
	var doc Document
	if err := a.form.Upload(ctx, applicationPath(applicationID)+"/documents", form, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// RequestReference asks a landlord or employer for a reference
func (a *API) RequestReference(ctx context.Context, applicationID string, ref Reference) (*Reference, error) {
	var out Reference
	if err := a.json.PostJSON(ctx, applicationPath(applicationID)+"/references", ref, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListViewingInvites lists viewing invitations
func (a *API) ListViewingInvites(ctx context.Context) ([]ViewingInvite, error) {
	items, err := a.list(ctx, "/viewings", nil)
	if err != nil {
		return nil, err
	}
	out := make([]ViewingInvite, 0, len(items))
	for _, item := range items {
		inv, err := NormalizeViewingInvite(item)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, nil
}

// RespondToViewing accepts a slot of an invite, or declines it when slot is nil
func (a *API) RespondToViewing(ctx context.Context, inviteID string, slot *ViewingSlot) (*ViewingInvite, error) {
	body := map[string]any{"accept": slot != nil}
	if slot != nil {
		body["slot"] = slot
	}
	var raw map[string]any
	if err := a.json.PostJSON(ctx, "/viewings/"+url.PathEscape(inviteID)+"/respond", body, &raw); err != nil {
		return nil, err
	}
	return NormalizeViewingInvite(raw)
}

// ListMessages lists the messages of a conversation, oldest first
func (a *API) ListMessages(ctx context.Context, conversationID string) ([]ChatMessage, error) {
	var page Page[ChatMessage]
	if err := a.json.GetJSON(ctx, conversationPath(conversationID), nil, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

// SendMessage posts a message to a conversation
func (a *API) SendMessage(ctx context.Context, conversationID, body string) (*ChatMessage, error) {
	var msg ChatMessage
	if err := a.json.PostJSON(ctx, conversationPath(conversationID), map[string]string{"body": body}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListInbox lists inbox emails, newest first
func (a *API) ListInbox(ctx context.Context, unreadOnly bool) ([]InboxEmail, error) {
	var q url.Values
	if unreadOnly {
		q = url.Values{"unread": {"true"}}
	}
	var page Page[InboxEmail]
	if err := a.json.GetJSON(ctx, "/inbox", q, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (a *API) application(ctx context.Context, req *client.Request) (*Application, error) {
	var raw map[string]any
	if err := a.json.DoJSON(ctx, req, &raw); err != nil {
		return nil, err
	}
	return NormalizeApplication(raw)
}

// list reads a listing that is either a bare array or an object with the
// entries under items or data
func (a *API) list(ctx context.Context, path string, q url.Values) ([]map[string]any, error) {
	var raw json.RawMessage
	if err := a.json.GetJSON(ctx, path, q, &raw); err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}

	var items []map[string]any
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		return items, nil
	}
	var wrapped struct {
		Items []map[string]any `json:"items"`
		Data  []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if wrapped.Items != nil {
		return wrapped.Items, nil
	}
	return wrapped.Data, nil
}

func applicationPath(id string) string {
	return "/applications/" + url.PathEscape(id)
}

func conversationPath(id string) string {
	return "/conversations/" + url.PathEscape(id) + "/messages"
}
