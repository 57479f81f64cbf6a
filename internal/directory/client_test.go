package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/people/v1"

	appErrors "github.com/unclebandit/contactsync-backend/internal/errors"
	"github.com/unclebandit/contactsync-backend/internal/naming"
)

// fakePeopleAPI is an in-memory stand-in for the directory API and its token endpoint.
type fakePeopleAPI struct {
	mu sync.Mutex

	validToken   string
	issuedToken  string
	refreshOK    bool
	groups       []*people.ContactGroup
	people       []*people.Person
	total        int
	groupLists   int
	groupCreates int
	creates      int
	modifies     int
	searches     []string
	tokenCalls   int

	// searchCap limits results per search like the real API; zero means unlimited
	searchCap int

	// override returns a canned failure for the path when set
	override func(w http.ResponseWriter, r *http.Request) bool
}

func newFakePeopleAPI() *fakePeopleAPI {
	return &fakePeopleAPI{validToken: "good", issuedToken: "good", refreshOK: true}
}

func (f *fakePeopleAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == "/token" {
		f.tokenCalls++
		_ = r.ParseForm()
		if !f.refreshOK || r.Form.Get("grant_type") != "refresh_token" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"access_token":%q,"token_type":"Bearer","expires_in":3600}`, f.issuedToken)
		return
	}

	if r.Header.Get("Authorization") != "Bearer "+f.validToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if f.override != nil && f.override(w, r) {
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/v1/contactGroups":
		f.groupLists++
		writeJSON(w, map[string]any{"contactGroups": f.groups})
	case r.Method == http.MethodPost && r.URL.Path == "/v1/contactGroups":
		var body people.CreateContactGroupRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.groupCreates++
		g := &people.ContactGroup{ResourceName: fmt.Sprintf("contactGroups/g%d", len(f.groups)+1), Name: body.ContactGroup.Name}
		f.groups = append(f.groups, g)
		writeJSON(w, g)
	case r.Method == http.MethodGet && r.URL.Path == "/v1/people:searchContacts":
		query := r.URL.Query().Get("query")
		f.searches = append(f.searches, query)
		var results []map[string]any
		for _, p := range f.people {
			if f.searchCap > 0 && len(results) == f.searchCap {
				break
			}
			if query != "" && matches(p, query) {
				results = append(results, map[string]any{"person": p})
			}
		}
		writeJSON(w, map[string]any{"results": results})
	case r.Method == http.MethodPost && r.URL.Path == "/v1/people:createContact":
		p := &people.Person{}
		_ = json.NewDecoder(r.Body).Decode(p)
		f.creates++
		p.ResourceName = fmt.Sprintf("people/c%d", len(f.people)+1)
		p.Names[0].DisplayName = p.Names[0].GivenName
		f.people = append(f.people, p)
		f.total++
		writeJSON(w, p)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/members:modify"):
		f.modifies++
		writeJSON(w, map[string]any{})
	case r.Method == http.MethodGet && r.URL.Path == "/v1/people/me/connections":
		writeJSON(w, map[string]any{"totalPeople": f.total})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func matches(p *people.Person, query string) bool {
	for _, n := range p.Names {
		if strings.HasPrefix(n.DisplayName, query) {
			return true
		}
	}
	for _, ph := range p.PhoneNumbers {
		if strings.Contains(naming.Digits(ph.Value), query) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

var fixedNow = time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)

type savedTokens struct {
	access, refresh string
	calls           int
}

func newTestClient(t *testing.T, api *fakePeopleAPI, access string) (*Client, *savedTokens) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	saved := &savedTokens{}
	opts := Options{
		BaseURL: srv.URL,
		OAuth: &oauth2.Config{
			ClientID:     "client",
			ClientSecret: "secret",
			Endpoint:     oauth2.Endpoint{TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams},
		},
		HTTPClient: srv.Client(),
		Now:        func() time.Time { return fixedNow },
	}
	c, err := NewClient(opts, "owner@example.com", access, "refresh-1", func(_ context.Context, a, r string) error {
		saved.access, saved.refresh = a, r
		saved.calls++
		return nil
	})
	require.NoError(t, err)
	return c, saved
}

func TestSaveContactWithLabel_CreatesThenExists(t *testing.T) {
	api := newFakePeopleAPI()
	api.total = 10
	c, _ := newTestClient(t, api, "good")
	ctx := context.Background()

	res, err := c.SaveContactWithLabel(ctx, "Bob", "0521234567", "Draw March 03/25", "Guest")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, "Bob 03/25", res.Name)
	require.Len(t, api.groups, 1)
	assert.Equal(t, "Draw March 03/25", api.groups[0].Name)

	again, err := c.SaveContactWithLabel(ctx, "Bob", "0521234567", "Draw March 03/25", "Guest")
	require.NoError(t, err)
	assert.Equal(t, OutcomeExisted, again.Outcome)
	assert.Equal(t, "Bob 03/25", again.Name)

	assert.Equal(t, 1, api.creates, "second save must not create")
	assert.Equal(t, 1, api.groupCreates)
	assert.Equal(t, 1, api.groupLists, "labels are memoized per client")
	assert.Zero(t, api.modifies, "contact already carries the label")
}

func TestSaveContactWithLabel_AddsMissingMembership(t *testing.T) {
	api := newFakePeopleAPI()
	api.people = []*people.Person{{
		ResourceName: "people/old",
		Names:        []*people.Name{{DisplayName: "Dana"}},
		PhoneNumbers: []*people.PhoneNumber{{Value: "054-7654321"}},
	}}
	c, _ := newTestClient(t, api, "good")

	res, err := c.SaveContactWithLabel(context.Background(), "Dana", "0547654321", "Promo 03/25", "Guest")
	require.NoError(t, err)
	assert.Equal(t, OutcomeExisted, res.Outcome)
	assert.Equal(t, 1, api.modifies)
	assert.Zero(t, api.creates)
}

func TestEnsureLabel_ReusesExisting(t *testing.T) {
	api := newFakePeopleAPI()
	api.groups = []*people.ContactGroup{
		{ResourceName: "contactGroups/a", Name: "draw march 03/25"},
		{ResourceName: "contactGroups/b", Name: "Draw March 03/25"},
	}
	c, _ := newTestClient(t, api, "good")

	l, err := c.EnsureLabel(context.Background(), "Draw March 03/25")
	require.NoError(t, err)
	assert.Equal(t, "contactGroups/b", l.ResourceName)
	assert.Zero(t, api.groupCreates)
}

func TestFindByPhone_FallsBackToLastNineDigits(t *testing.T) {
	api := newFakePeopleAPI()
	api.people = []*people.Person{{
		ResourceName: "people/1",
		Names:        []*people.Name{{DisplayName: "Moshe"}},
		PhoneNumbers: []*people.PhoneNumber{{Value: "052-123-4567"}},
	}}
	c, _ := newTestClient(t, api, "good")

	found, err := c.FindByPhone(context.Background(), "+972 52-123-4567")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "people/1", found.ResourceName)
	assert.Contains(t, api.searches, "972521234567")
	assert.Contains(t, api.searches, "521234567")
}

func TestFindByPhone_NoMatch(t *testing.T) {
	api := newFakePeopleAPI()
	c, _ := newTestClient(t, api, "good")

	found, err := c.FindByPhone(context.Background(), "0521234567")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestUniqueName_AppendsCounter(t *testing.T) {
	api := newFakePeopleAPI()
	api.people = []*people.Person{
		{ResourceName: "people/1", Names: []*people.Name{{DisplayName: "Bob 03/25"}}},
		{ResourceName: "people/2", Names: []*people.Name{{DisplayName: "Bob 03/25 (2)"}}},
	}
	c, _ := newTestClient(t, api, "good")

	name, err := c.UniqueName(context.Background(), "Bob 03/25")
	require.NoError(t, err)
	assert.Equal(t, "Bob 03/25 (3)", name)
}

func TestUniqueName_SeesPastCappedSearchResults(t *testing.T) {
	api := newFakePeopleAPI()
	api.searchCap = 30
	api.people = []*people.Person{{ResourceName: "people/0", Names: []*people.Name{{DisplayName: "Contact 03/25"}}}}
	for n := 2; n <= 31; n++ {
		api.people = append(api.people, &people.Person{
			ResourceName: fmt.Sprintf("people/%d", n),
			Names:        []*people.Name{{DisplayName: fmt.Sprintf("Contact 03/25 (%d)", n)}},
		})
	}
	c, _ := newTestClient(t, api, "good")

	name, err := c.UniqueName(context.Background(), "Contact 03/25")
	require.NoError(t, err)
	assert.Equal(t, "Contact 03/25 (32)", name)
	assert.Contains(t, api.searches, "Contact 03/25 (31)")
}

func TestUniqueName_SearchErrorIsReturned(t *testing.T) {
	api := newFakePeopleAPI()
	api.people = []*people.Person{{ResourceName: "people/1", Names: []*people.Name{{DisplayName: "Bob 03/25"}}}}
	api.override = func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Query().Get("query") != "Bob 03/25 (2)" {
			return false
		}
		w.WriteHeader(http.StatusTooManyRequests)
		return true
	}
	c, _ := newTestClient(t, api, "good")

	_, err := c.UniqueName(context.Background(), "Bob 03/25")
	require.Error(t, err)
	assert.Equal(t, appErrors.KindRateLimitTemporary, appErrors.KindOf(err))
}

func TestDo_RefreshesOnceOnUnauthorized(t *testing.T) {
	api := newFakePeopleAPI()
	api.total = 42
	c, saved := newTestClient(t, api, "expired")

	n, err := c.AccountCapacity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.Equal(t, 1, api.tokenCalls)
	assert.Equal(t, 1, saved.calls)
	assert.Equal(t, "good", saved.access)
	assert.Equal(t, "refresh-1", saved.refresh, "refresh token is kept when the server does not rotate it")
}

func TestDo_RefreshFailureIsTokenInvalid(t *testing.T) {
	api := newFakePeopleAPI()
	api.refreshOK = false
	c, saved := newTestClient(t, api, "expired")

	_, err := c.AccountCapacity(context.Background())
	require.Error(t, err)
	assert.Equal(t, appErrors.KindTokenInvalid, appErrors.KindOf(err))
	assert.Zero(t, saved.calls)
}

func TestDo_SecondUnauthorizedIsNotRetried(t *testing.T) {
	api := newFakePeopleAPI()
	// token endpoint hands out a token the API keeps rejecting
	api.issuedToken = "stale"
	c, _ := newTestClient(t, api, "expired")

	_, err := c.AccountCapacity(context.Background())
	require.Error(t, err)
	assert.Equal(t, appErrors.KindTokenInvalid, appErrors.KindOf(err))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		header     string
		body       string
		kind       appErrors.Kind
		retryAfter time.Duration
	}{
		{"rate limited", http.StatusTooManyRequests, "30", `{"error":{"code":429,"message":"Too many requests"}}`, appErrors.KindRateLimitTemporary, 30 * time.Second},
		{"rate limited without header", http.StatusTooManyRequests, "", "", appErrors.KindRateLimitTemporary, defaultRetryAfter},
		{"contact quota", http.StatusForbidden, "", `{"error":{"code":403,"message":"Contact limit reached for this account"}}`, appErrors.KindContactLimitExceeded, 0},
		{"permission", http.StatusForbidden, "", `{"error":{"code":403,"message":"The caller does not have permission","status":"PERMISSION_DENIED"}}`, appErrors.KindPermissionDenied, 0},
		{"server error", http.StatusInternalServerError, "", "oops", appErrors.KindUnknown, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakePeopleAPI()
			api.override = func(w http.ResponseWriter, r *http.Request) bool {
				if tt.header != "" {
					w.Header().Set("Retry-After", tt.header)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
				return true
			}
			c, _ := newTestClient(t, api, "good")

			_, err := c.AccountCapacity(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.kind, appErrors.KindOf(err))
			assert.Equal(t, tt.retryAfter, appErrors.RetryAfterOf(err))
		})
	}
}

func TestRetryAfter_HTTPDateUsesClientClock(t *testing.T) {
	api := newFakePeopleAPI()
	c, _ := newTestClient(t, api, "good")

	at := fixedNow.Add(2 * time.Minute).Format(http.TimeFormat)
	assert.Equal(t, 2*time.Minute, c.retryAfter(at))
	assert.Equal(t, time.Second, c.retryAfter(fixedNow.Add(-time.Hour).Format(http.TimeFormat)))
	assert.Equal(t, defaultRetryAfter, c.retryAfter("soon"))
}
