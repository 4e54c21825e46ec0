package mockapi

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/panyam/lettings"
)

type ownedApplication struct {
	owner string
	app   lettings.Application
}

type ownedInvite struct {
	owner  string
	invite lettings.ViewingInvite
}

type conversation struct {
	owner    string
	messages []lettings.ChatMessage
}

type dataStore struct {
	mu            sync.Mutex
	nextID        int
	properties    []lettings.Property
	applications  map[string]*ownedApplication
	appOrder      []string
	invites       map[string]*ownedInvite
	inviteOrder   []string
	conversations map[string]*conversation
	inbox         map[string][]lettings.InboxEmail
}

func newDataStore() *dataStore {
	return &dataStore{
		nextID:        100,
		applications:  map[string]*ownedApplication{},
		invites:       map[string]*ownedInvite{},
		conversations: map[string]*conversation{},
		inbox:         map[string][]lettings.InboxEmail{},
	}
}

// newID returns prefix-N (caller must hold lock)
func (d *dataStore) newID(prefix string) string {
	d.nextID++
	return fmt.Sprintf("%s-%d", prefix, d.nextID)
}

var seedTime = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

func (d *dataStore) seed(owner string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.properties = []lettings.Property{
		{ID: "prop-1", Title: "Two bed flat near the park", Address: "12 Hyde Park Road", City: "Leeds", Postcode: "LS6 1AB",
			RentPCM: 1150, Deposit: 1326, Bedrooms: 2, Bathrooms: 1, PropertyType: "flat", Furnished: true,
			AvailableFrom: seedTime.AddDate(0, 1, 0), AgentName: "Northside Lettings"},
		{ID: "prop-2", Title: "Family house with garden", Address: "4 Church Lane", City: "Leeds", Postcode: "LS16 7QT",
			RentPCM: 1650, Deposit: 1903, Bedrooms: 3, Bathrooms: 2, PropertyType: "house",
			AvailableFrom: seedTime.AddDate(0, 0, 14), AgentName: "Northside Lettings"},
		{ID: "prop-3", Title: "Studio in the centre", Address: "88 Deansgate", City: "Manchester", Postcode: "M3 2ER",
			RentPCM: 895, Deposit: 1032, Bedrooms: 0, Bathrooms: 1, PropertyType: "studio", Furnished: true,
			AvailableFrom: seedTime, AgentName: "City Homes"},
		{ID: "prop-4", Title: "Three bed terrace", Address: "21 Victoria Street", City: "Manchester", Postcode: "M4 5JD",
			RentPCM: 1400, Deposit: 1615, Bedrooms: 3, Bathrooms: 1, PropertyType: "house",
			AvailableFrom: seedTime.AddDate(0, 2, 0), AgentName: "City Homes"},
	}

	d.putApplication(owner, lettings.Application{
		ID:         "app-1",
		PropertyID: "prop-1",
		Status:     lettings.StatusDraft,
		Step:       2,
		Applicant:  lettings.Applicant{FirstName: "Demo", LastName: "Tenant", Email: owner},
		CreatedAt:  seedTime,
		UpdatedAt:  seedTime,
	})

	for _, inv := range []lettings.ViewingInvite{
		{ID: "101", PropertyID: "prop-2", Address: "4 Church Lane", Status: lettings.ViewingPending,
			Message: "Parking is on the street",
			Slots: []lettings.ViewingSlot{
				{Start: seedTime.AddDate(0, 0, 20).Add(time.Hour), End: seedTime.AddDate(0, 0, 20).Add(90 * time.Minute)},
				{Start: seedTime.AddDate(0, 0, 21).Add(8 * time.Hour), End: seedTime.AddDate(0, 0, 21).Add(8*time.Hour + 30*time.Minute)},
			},
			CreatedAt: seedTime},
		{ID: "102", PropertyID: "prop-4", Address: "21 Victoria Street", Status: lettings.ViewingDeclined,
			Slots: []lettings.ViewingSlot{
				{Start: seedTime.AddDate(0, 0, 3), End: seedTime.AddDate(0, 0, 3).Add(20 * time.Minute)},
			},
			CreatedAt: seedTime.AddDate(0, 0, -2)},
	} {
		d.invites[inv.ID] = &ownedInvite{owner: owner, invite: inv}
		d.inviteOrder = append(d.inviteOrder, inv.ID)
	}

	d.conversations["conv-1"] = &conversation{owner: owner, messages: []lettings.ChatMessage{
		{ID: "msg-1", ConversationID: "conv-1", Sender: "Northside Lettings", Body: "Thanks for your interest in 12 Hyde Park Road.", SentAt: seedTime},
		{ID: "msg-2", ConversationID: "conv-1", Sender: owner, Body: "Is the flat still available from November?", SentAt: seedTime.Add(time.Hour)},
	}}

	d.inbox[owner] = []lettings.InboxEmail{
		{ID: "mail-1", From: "noreply@lettings.example", Subject: "Welcome", Preview: "Your account is ready", Read: true, ReceivedAt: seedTime.AddDate(0, 0, -7)},
		{ID: "mail-2", From: "Northside Lettings", Subject: "Viewing invitation", Preview: "We would like to invite you", ReceivedAt: seedTime},
		{ID: "mail-3", From: "City Homes", Subject: "Viewing cancelled", Preview: "Unfortunately", ReceivedAt: seedTime.AddDate(0, 0, -1)},
	}
}

// putApplication stores app (caller must hold lock)
func (d *dataStore) putApplication(owner string, app lettings.Application) {
	if _, ok := d.applications[app.ID]; !ok {
		d.appOrder = append(d.appOrder, app.ID)
	}
	d.applications[app.ID] = &ownedApplication{owner: owner, app: app}
}

func (d *dataStore) property(id string) (lettings.Property, bool) {
	for _, p := range d.properties {
		if p.ID == id {
			return p, true
		}
	}
	return lettings.Property{}, false
}

type propertyFilter struct {
	location     string
	minRent      int
	maxRent      int
	minBedrooms  int
	propertyType string
	furnished    *bool
}

func (f propertyFilter) match(p lettings.Property) bool {
	if f.location != "" {
		loc := strings.ToLower(f.location)
		if !strings.Contains(strings.ToLower(p.City), loc) &&
			!strings.Contains(strings.ToLower(p.Postcode), loc) &&
			!strings.Contains(strings.ToLower(p.Address), loc) {
			return false
		}
	}
	if f.minRent > 0 && p.RentPCM < f.minRent {
		return false
	}
	if f.maxRent > 0 && p.RentPCM > f.maxRent {
		return false
	}
	if p.Bedrooms < f.minBedrooms {
		return false
	}
	if f.propertyType != "" && !strings.EqualFold(p.PropertyType, f.propertyType) {
		return false
	}
	if f.furnished != nil && p.Furnished != *f.furnished {
		return false
	}
	return true
}

func (d *dataStore) search(f propertyFilter, page, pageSize int) lettings.Page[lettings.Property] {
	d.mu.Lock()
	defer d.mu.Unlock()

	var matched []lettings.Property
	for _, p := range d.properties {
		if f.match(p) {
			matched = append(matched, p)
		}
	}
	out := lettings.Page[lettings.Property]{Items: []lettings.Property{}, Total: len(matched), Page: page, PageSize: pageSize}
	start := (page - 1) * pageSize
	if start < len(matched) {
		end := min(start+pageSize, len(matched))
		out.Items = matched[start:end]
	}
	return out
}

func (d *dataStore) inboxFor(owner string, unreadOnly bool) []lettings.InboxEmail {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := []lettings.InboxEmail{}
	for _, m := range d.inbox[owner] {
		if unreadOnly && m.Read {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	return out
}

// legacyInvite renders an invite the way the older viewings endpoint does:
// camelCase keys, numeric ids, interval strings and a nested property.
func legacyInvite(inv lettings.ViewingInvite) map[string]any {
	slots := make([]string, 0, len(inv.Slots))
	for _, s := range inv.Slots {
		slots = append(slots, slotString(s))
	}
	m := map[string]any{
		"property":       map[string]any{"id": inv.PropertyID, "address": inv.Address},
		"state":          legacyViewingState(inv.Status),
		"availableSlots": slots,
		"invitedAt":      inv.CreatedAt.Format("2006-01-02"),
	}
	if n, err := strconv.Atoi(inv.ID); err == nil {
		m["inviteId"] = n
	} else {
		m["inviteId"] = inv.ID
	}
	if inv.Message != "" {
		m["note"] = inv.Message
	}
	if inv.Chosen != nil {
		m["chosenSlot"] = slotString(*inv.Chosen)
	}
	return m
}

func slotString(s lettings.ViewingSlot) string {
	return s.Start.Format(time.RFC3339) + "/" + s.End.Format(time.RFC3339)
}

func legacyViewingState(s lettings.ViewingStatus) string {
	switch s {
	case lettings.ViewingPending:
		return "invited"
	case lettings.ViewingAccepted:
		return "confirmed"
	}
	return string(s)
}
