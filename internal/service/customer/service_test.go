package customer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmehdipour/crm-campaigns/internal/model"
	"github.com/jmehdipour/crm-campaigns/internal/repository/repotest"
	"github.com/jmehdipour/crm-campaigns/internal/rules"
	"github.com/stretchr/testify/require"
)

func newService(db *repotest.DB) *Service {
	s := New(db.Tx(), db.Customers(), db.Orders())
	s.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func amount(f float64) *float64 { return &f }

func TestIngest_CreatesCustomer(t *testing.T) {
	db := repotest.New()
	svc := newService(db)

	c, err := svc.Ingest(context.Background(), IngestRequest{
		ID: "cust_1", Name: " Ada ", Email: "ada@example.com", Phone: "0047 11-22", Attributes: []byte(`{"city":"Oslo"}`),
	})
	require.NoError(t, err)
	require.Equal(t, "cust_1", c.ID)
	require.Equal(t, "Ada", c.Name)
	require.Equal(t, "+471122", c.Phone)
	city, ok := c.Attr("city")
	require.True(t, ok)
	require.Equal(t, "Oslo", city)
	require.Zero(t, c.TotalVisits)
}

func TestIngest_GeneratesIDAndKeepsStatsOnReingest(t *testing.T) {
	db := repotest.New()
	svc := newService(db)

	c, err := svc.Ingest(context.Background(), IngestRequest{Name: "Bob", Email: "bob@example.com"})
	require.NoError(t, err)
	require.Len(t, c.ID, 26)

	_, err = svc.RecordOrder(context.Background(), OrderRequest{CustomerID: c.ID, Amount: amount(40)})
	require.NoError(t, err)

	again, err := svc.Ingest(context.Background(), IngestRequest{ID: c.ID, Name: "Robert", Email: "bob@example.com"})
	require.NoError(t, err)
	require.Equal(t, "Robert", again.Name)
	require.EqualValues(t, 40, again.TotalSpend)
	require.EqualValues(t, 1, again.TotalVisits)
}

func TestIngest_Validation(t *testing.T) {
	svc := newService(repotest.New())
	for name, req := range map[string]IngestRequest{
		"no name":      {Email: "x@example.com"},
		"no email":     {Name: "X"},
		"bad attrs":    {Name: "X", Email: "x@example.com", Attributes: []byte(`[1,2]`)},
		"blank name":   {Name: "  ", Email: "x@example.com"},
		"scalar attrs": {Name: "X", Email: "x@example.com", Attributes: []byte(`"vip"`)},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Ingest(context.Background(), req)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
		})
	}
}

func TestRecordOrder_UpdatesRuleFields(t *testing.T) {
	db := repotest.New()
	earlier := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	db.AddCustomers(&model.Customer{ID: "c1", Name: "Ada", Email: "ada@example.com", TotalSpend: 100, TotalVisits: 2, LastActive: &earlier})
	svc := newService(db)

	res, err := svc.RecordOrder(context.Background(), OrderRequest{ID: "o1", CustomerID: "c1", Amount: amount(4950), OrderDate: "2024-04-02"})
	require.NoError(t, err)
	require.True(t, res.CustomerUpdated)
	require.Equal(t, time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), res.Order.OrderDate)

	c, ok := db.Customer("c1")
	require.True(t, ok)
	require.EqualValues(t, 5050, c.TotalSpend)
	require.EqualValues(t, 3, c.TotalVisits)
	require.Equal(t, res.Order.OrderDate, *c.LastActive)

	// the customer now falls into a rule-based audience
	p := rules.Compile(rules.AllOf(rules.Cond("totalSpend", ">", 5000), rules.Cond("lastActive", ">", "2024-03-01"))).Predicate
	n, err := db.Customers().Count(context.Background(), p)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestRecordOrder_BackdatedOrderKeepsLastActive(t *testing.T) {
	db := repotest.New()
	recent := time.Date(2024, 4, 20, 0, 0, 0, 0, time.UTC)
	db.AddCustomers(&model.Customer{ID: "c1", Name: "Ada", LastActive: &recent})
	svc := newService(db)

	_, err := svc.RecordOrder(context.Background(), OrderRequest{CustomerID: "c1", Amount: amount(10), OrderDate: "2023-12-24T10:00:00Z"})
	require.NoError(t, err)

	c, _ := db.Customer("c1")
	require.Equal(t, recent, *c.LastActive)
	require.EqualValues(t, 1, c.TotalVisits)
}

func TestRecordOrder_UnknownCustomerKeepsOrder(t *testing.T) {
	db := repotest.New()
	svc := newService(db)

	res, err := svc.RecordOrder(context.Background(), OrderRequest{CustomerID: "ghost", Amount: amount(5)})
	require.NoError(t, err)
	require.False(t, res.CustomerUpdated)
	require.Equal(t, 1, db.OrderCount())
	require.Equal(t, svc.now().UTC(), res.Order.OrderDate)
}

func TestRecordOrder_Validation(t *testing.T) {
	svc := newService(repotest.New())
	for name, req := range map[string]OrderRequest{
		"no customer": {Amount: amount(1)},
		"no amount":   {CustomerID: "c1"},
		"negative":    {CustomerID: "c1", Amount: amount(-3)},
		"bad date":    {CustomerID: "c1", Amount: amount(1), OrderDate: "yesterday"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.RecordOrder(context.Background(), req)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
		})
	}
}

func TestRecordOrder_StoreErrorRollsBack(t *testing.T) {
	db := repotest.New()
	db.AddCustomers(&model.Customer{ID: "c1", Name: "Ada"})
	svc := newService(db)
	db.ErrCustomers = errors.New("db down")

	_, err := svc.RecordOrder(context.Background(), OrderRequest{ID: "o1", CustomerID: "c1", Amount: amount(5)})
	require.Error(t, err)
	require.Zero(t, db.OrderCount())
}
