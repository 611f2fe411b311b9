package knowledge

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compliance-agents/coordination-core/internal/model"
	"github.com/compliance-agents/coordination-core/internal/service/embedding"
	"github.com/compliance-agents/coordination-core/internal/storage"
	"github.com/compliance-agents/coordination-core/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	ctx := context.Background()
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	db, err := tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		panic(err)
	}
	testDB = db
	defer db.Close(ctx)

	os.Exit(m.Run())
}

func newTestEntity(domain model.Domain, title, content string) model.KnowledgeEntity {
	return model.KnowledgeEntity{
		OrgID:           uuid.Nil,
		Domain:          domain,
		KnowledgeType:   model.KnowledgeFact,
		Title:           title,
		Content:         content,
		RetentionPolicy: model.RetentionPersistent,
	}
}

// accessCount reads access_count directly, since Store.Get intentionally
// returns the pre-touch value of its own access and isn't suitable for
// observing the effect of a prior call.
func accessCount(t *testing.T, entityID uuid.UUID) int64 {
	t.Helper()
	var n int64
	err := testDB.Pool().QueryRow(context.Background(),
		`SELECT access_count FROM knowledge_entities WHERE entity_id = $1`, entityID,
	).Scan(&n)
	require.NoError(t, err)
	return n
}

// TestStore_AccessAccounting exercises scenario 6's assertion: a returned
// entity's access_count increments by exactly 1 per semantic_search call,
// via the batched update SemanticSearch/HybridSearch apply to their final
// result set.
func TestStore_AccessAccounting(t *testing.T) {
	store := New(testDB.Pool(), testutil.TestLogger(), embedding.NewHashingProvider(8), nil)
	ctx := context.Background()

	e1, err := store.Create(ctx, newTestEntity(model.DomainRegulatoryCompliance, "KYC threshold", "customer due diligence threshold amounts"))
	require.NoError(t, err)
	require.EqualValues(t, 0, accessCount(t, e1.EntityID))

	// SemanticSearch degrades to full-text search since no ANN index is
	// configured for this Store.
	results, err := store.SemanticSearch(ctx, uuid.Nil, model.SearchQuery{Text: "due diligence threshold", MaxResults: 10})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.EqualValues(t, 1, accessCount(t, e1.EntityID), "one batched increment from SemanticSearch")

	cfg := model.DefaultHybridSearchConfig()
	hresults, err := store.HybridSearch(ctx, uuid.Nil, "due diligence threshold", cfg)
	require.NoError(t, err)
	require.NotEmpty(t, hresults)
	assert.EqualValues(t, 2, accessCount(t, e1.EntityID), "one further batched increment from HybridSearch")
}

// TestStore_CreateGetRoundTrip exercises the basic VKS persistence path
// against a real Postgres instance with the vector extension enabled.
func TestStore_CreateGetRoundTrip(t *testing.T) {
	store := New(testDB.Pool(), testutil.TestLogger(), embedding.NewHashingProvider(8), nil)
	ctx := context.Background()

	created, err := store.Create(ctx, newTestEntity(model.DomainAuditIntelligence, "Control gap", "missing segregation of duties control"))
	require.NoError(t, err)

	fetched, err := store.Get(ctx, uuid.Nil, created.EntityID)
	require.NoError(t, err)
	assert.Equal(t, created.Title, fetched.Title)
	assert.Equal(t, created.Content, fetched.Content)
}
