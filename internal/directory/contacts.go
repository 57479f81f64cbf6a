package directory

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/api/people/v1"

	"github.com/unclebandit/contactsync-backend/internal/naming"
)

const (
	// searchPageSize is the most searchContacts returns for one query.
	searchPageSize = 30
	searchMask     = "names,phoneNumbers,memberships"
)

type Label struct {
	ResourceName string
	Name         string
}

type Contact struct {
	ResourceName string
	DisplayName  string
	Phones       []string
	Groups       []string
}

type SaveOutcome string

const (
	OutcomeCreated SaveOutcome = "created"
	OutcomeExisted SaveOutcome = "existed"
)

type SaveResult struct {
	Outcome      SaveOutcome
	Name         string
	ResourceName string
}

func toContact(p *people.Person) *Contact {
	c := &Contact{ResourceName: p.ResourceName}
	for _, n := range p.Names {
		if n.DisplayName != "" {
			c.DisplayName = n.DisplayName
			break
		}
		if n.GivenName != "" && c.DisplayName == "" {
			c.DisplayName = n.GivenName
		}
	}
	for _, ph := range p.PhoneNumbers {
		c.Phones = append(c.Phones, ph.Value)
		if ph.CanonicalForm != "" {
			c.Phones = append(c.Phones, ph.CanonicalForm)
		}
	}
	for _, m := range p.Memberships {
		if m.ContactGroupMembership != nil {
			c.Groups = append(c.Groups, m.ContactGroupMembership.ContactGroupResourceName)
		}
	}
	return c
}

// EnsureLabel returns the contact group named exactly name, creating it when absent.
func (c *Client) EnsureLabel(ctx context.Context, name string) (Label, error) {
	c.mu.Lock()
	if l, ok := c.labels[name]; ok {
		c.mu.Unlock()
		return l, nil
	}
	c.mu.Unlock()

	pageToken := ""
	for {
		list := c.svc.ContactGroups.List().PageSize(1000).Context(ctx)
		if pageToken != "" {
			list = list.PageToken(pageToken)
		}
		page, err := call(ctx, c, "list contact groups", list.Do)
		if err != nil {
			return Label{}, err
		}
		for _, g := range page.ContactGroups {
			if g.Name == name {
				return c.rememberLabel(Label{ResourceName: g.ResourceName, Name: g.Name}), nil
			}
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	req := &people.CreateContactGroupRequest{ContactGroup: &people.ContactGroup{Name: name}}
	created, err := call(ctx, c, "create contact group", c.svc.ContactGroups.Create(req).Context(ctx).Do)
	if err != nil {
		return Label{}, err
	}
	c.logger.Info("contact group created", zap.String("label", name), zap.String("resource", created.ResourceName))
	return c.rememberLabel(Label{ResourceName: created.ResourceName, Name: name}), nil
}

func (c *Client) rememberLabel(l Label) Label {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.labels[l.Name] = l
	return l
}

func (c *Client) search(ctx context.Context, query string) ([]*people.Person, error) {
	c.warmup(ctx)
	req := c.svc.People.SearchContacts().Query(query).ReadMask(searchMask).PageSize(searchPageSize).Context(ctx)
	out, err := call(ctx, c, "search contacts", req.Do)
	if err != nil {
		return nil, err
	}
	found := make([]*people.Person, 0, len(out.Results))
	for _, r := range out.Results {
		if r.Person != nil {
			found = append(found, r.Person)
		}
	}
	return found, nil
}

// warmup sends the empty query the search index needs before it returns fresh results.
func (c *Client) warmup(ctx context.Context) {
	c.mu.Lock()
	if c.warmed {
		c.mu.Unlock()
		return
	}
	c.warmed = true
	c.mu.Unlock()

	req := c.svc.People.SearchContacts().Query("").ReadMask("names").Context(ctx)
	if _, err := call(ctx, c, "search warmup", req.Do); err != nil {
		c.logger.Debug("search warmup failed", zap.Error(err))
	}
}

// FindByPhone looks the phone up by its full digits, then by the last nine digits.
func (c *Client) FindByPhone(ctx context.Context, phone string) (*Contact, error) {
	digits := naming.Digits(phone)
	if digits == "" {
		return nil, nil
	}
	found, err := c.searchPhone(ctx, digits, digits)
	if err != nil || found != nil {
		return found, err
	}
	if len(digits) > 9 {
		return c.searchPhone(ctx, digits[len(digits)-9:], digits)
	}
	return nil, nil
}

func (c *Client) searchPhone(ctx context.Context, query, full string) (*Contact, error) {
	found, err := c.search(ctx, query)
	if err != nil {
		return nil, err
	}
	for _, p := range found {
		contact := toContact(p)
		for _, ph := range contact.Phones {
			if naming.SamePhone(ph, full) {
				return contact, nil
			}
		}
	}
	return nil, nil
}

// SanitizeDisplayName applies the naming pipeline with this client's clock.
func (c *Client) SanitizeDisplayName(raw, fallback string) string {
	return naming.Sanitize(raw, fallback, c.now())
}

// UniqueName suffixes sanitized with " (n)" until no existing contact has that exact name.
// Search results are capped, so every candidate not already seen taken is looked up on
// its own before it is returned.
func (c *Client) UniqueName(ctx context.Context, sanitized string) (string, error) {
	taken := make(map[string]bool)
	collect := func(query string) error {
		found, err := c.search(ctx, query)
		if err != nil {
			return err
		}
		for _, p := range found {
			for _, n := range p.Names {
				if n.DisplayName != "" {
					taken[n.DisplayName] = true
				}
			}
		}
		return nil
	}

	searched := make(map[string]bool)
	return naming.Unique(sanitized, func(candidate string) (bool, error) {
		if taken[candidate] {
			return true, nil
		}
		if !searched[candidate] {
			searched[candidate] = true
			if err := collect(candidate); err != nil {
				return false, err
			}
		}
		return taken[candidate], nil
	})
}

func (c *Client) ensureMembership(ctx context.Context, contact *Contact, label Label) error {
	for _, g := range contact.Groups {
		if g == label.ResourceName {
			return nil
		}
	}
	req := &people.ModifyContactGroupMembersRequest{ResourceNamesToAdd: []string{contact.ResourceName}}
	modify := c.svc.ContactGroups.Members.Modify(label.ResourceName, req).Context(ctx)
	if _, err := call(ctx, c, "add label member", modify.Do); err != nil {
		return err
	}
	contact.Groups = append(contact.Groups, label.ResourceName)
	return nil
}

func (c *Client) createContact(ctx context.Context, name, phone string, label Label) (*Contact, error) {
	in := &people.Person{
		Names:        []*people.Name{{GivenName: name}},
		PhoneNumbers: []*people.PhoneNumber{{Value: phone}},
		Memberships: []*people.Membership{{
			ContactGroupMembership: &people.ContactGroupMembership{ContactGroupResourceName: label.ResourceName},
		}},
	}
	create := c.svc.People.CreateContact(in).PersonFields(searchMask).Context(ctx)
	out, err := call(ctx, c, "create contact", create.Do)
	if err != nil {
		return nil, err
	}
	return toContact(out), nil
}

// SaveContactWithLabel files phone under campaignLabel. Calling it twice with the same
// phone yields OutcomeExisted the second time.
func (c *Client) SaveContactWithLabel(ctx context.Context, rawName, phone, campaignLabel, fallback string) (SaveResult, error) {
	label, err := c.EnsureLabel(ctx, campaignLabel)
	if err != nil {
		return SaveResult{}, err
	}

	existing, err := c.FindByPhone(ctx, phone)
	if err != nil {
		return SaveResult{}, err
	}
	if existing != nil {
		if err := c.ensureMembership(ctx, existing, label); err != nil {
			return SaveResult{}, err
		}
		return SaveResult{Outcome: OutcomeExisted, Name: existing.DisplayName, ResourceName: existing.ResourceName}, nil
	}

	name, err := c.UniqueName(ctx, c.SanitizeDisplayName(rawName, fallback))
	if err != nil {
		return SaveResult{}, err
	}
	created, err := c.createContact(ctx, name, phone, label)
	if err != nil {
		return SaveResult{}, err
	}
	c.logger.Info("contact created", zap.String("name", name), zap.String("label", campaignLabel))
	return SaveResult{Outcome: OutcomeCreated, Name: name, ResourceName: created.ResourceName}, nil
}

// AccountCapacity returns the number of contacts in the account.
func (c *Client) AccountCapacity(ctx context.Context) (int, error) {
	list := c.svc.People.Connections.List("people/me").PersonFields("metadata").PageSize(1).Context(ctx)
	out, err := call(ctx, c, "count connections", list.Do)
	if err != nil {
		return 0, err
	}
	if out.TotalPeople > 0 {
		return int(out.TotalPeople), nil
	}
	return int(out.TotalItems), nil
}
