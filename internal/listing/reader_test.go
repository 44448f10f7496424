package listing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/promptseal/internal/blobstore"
	"github.com/dmitrijs2005/promptseal/internal/common"
	"github.com/dmitrijs2005/promptseal/internal/ledger/sui"
)

type fakeChain struct {
	mu       sync.Mutex
	objects  map[string]string
	pages    []sui.DynamicFieldPage
	pageErr  error
	cursors  []string
	gotLimit int
}

func (f *fakeChain) GetObject(ctx context.Context, id string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[id]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", id, common.ErrNotFound)
	}
	return json.RawMessage(o), nil
}

func (f *fakeChain) GetDynamicFields(ctx context.Context, parent, cursor string, limit int) (*sui.DynamicFieldPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors = append(f.cursors, cursor)
	f.gotLimit = limit
	if f.pageErr != nil {
		return nil, f.pageErr
	}
	i := len(f.cursors) - 1
	if i >= len(f.pages) {
		return &sui.DynamicFieldPage{}, nil
	}
	p := f.pages[i]
	return &p, nil
}

type countSkips struct {
	mu      sync.Mutex
	reasons []string
}

func (c *countSkips) ObserveSkip(reason string) {
	c.mu.Lock()
	c.reasons = append(c.reasons, reason)
	c.mu.Unlock()
}

const marketplaceJSON = `{"data":{"objectId":"0xmarket","content":{"dataType":"moveObject","fields":{"id":{"id":"0xmarket"},"prompts":{"type":"0x2::table::Table","fields":{"id":{"id":"0xtable"},"size":"3"}}}}}}`

func entryJSON(metaID, encID string, price, testPrice uint64) string {
	return fmt.Sprintf(`{"data":{"content":{"fields":{"name":"1","value":{"type":"x::ai_marketplace::Prompt","fields":{"metadata_uri":%q,"encrypted_prompt_uri":%q,"price":"%d","test_price":"%d","seller":"0xseller"}}}}}}`,
		metaID, encID, price, testPrice)
}

func storeMeta(t *testing.T, blobs blobstore.Store, title string) string {
	t.Helper()
	b, err := json.Marshal(Metadata{Title: title, Description: "d", Price: 999, TestPrice: 1})
	require.NoError(t, err)
	id, err := blobs.Store(context.Background(), b, 1)
	require.NoError(t, err)
	return id
}

func TestListAll_SkipsUnresolvableEntries(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemory()

	m1 := storeMeta(t, blobs, "first")
	m3 := storeMeta(t, blobs, "third")

	chain := &fakeChain{
		objects: map[string]string{
			"0xmarket": marketplaceJSON,
			"0xe1":     entryJSON(m1, "enc1", 2_000_000_000, 500_000_000),
			"0xe2":     entryJSON("missing-blob", "enc2", 1, 0),
			"0xe3":     entryJSON(m3, "enc3", 1_000_000_000, 0),
		},
		pages: []sui.DynamicFieldPage{
			{Data: []sui.DynamicField{{ObjectID: "0xe1"}, {ObjectID: "0xe2"}}, NextCursor: "c1", HasNextPage: true},
			{Data: []sui.DynamicField{{ObjectID: "0xe3"}}},
		},
	}
	skips := &countSkips{}

	r := NewReader(chain, blobs, WithPageSize(2), WithWorkers(2), WithSkipObserver(skips))
	ls, err := r.ListAll(ctx, "0xmarket")
	require.NoError(t, err)

	var got []Summary
	for s := range ls.All() {
		got = append(got, s)
	}
	require.NoError(t, ls.Err())

	require.Len(t, got, 2)
	assert.Equal(t, "0xe1", got[0].ListingID)
	assert.Equal(t, "first", got[0].Metadata.Title)
	assert.InDelta(t, 2.0, got[0].Price, 1e-9)
	assert.InDelta(t, 0.5, got[0].TestPrice, 1e-9)
	assert.InDelta(t, 2.0, got[0].Metadata.Price, 1e-9)
	assert.Equal(t, uint64(2_000_000_000), got[0].PriceBase)
	assert.Equal(t, "enc1", got[0].EncryptedBlobID)
	assert.Equal(t, "0xseller", got[0].Seller)
	assert.Equal(t, "0xe3", got[1].ListingID)

	assert.Equal(t, 1, ls.Skipped())
	assert.Equal(t, []string{SkipMetadata}, skips.reasons)
	assert.Equal(t, []string{"", "c1"}, chain.cursors)
	assert.Equal(t, 2, chain.gotLimit)

	// single use
	n := 0
	for range ls.All() {
		n++
	}
	assert.Zero(t, n)
}

func TestListAll_EarlyBreakStopsPaging(t *testing.T) {
	blobs := blobstore.NewMemory()
	m := storeMeta(t, blobs, "only")
	chain := &fakeChain{
		objects: map[string]string{
			"0xmarket": marketplaceJSON,
			"0xe1":     entryJSON(m, "enc", 1, 0),
			"0xe2":     entryJSON(m, "enc", 1, 0),
		},
		pages: []sui.DynamicFieldPage{
			{Data: []sui.DynamicField{{ObjectID: "0xe1"}, {ObjectID: "0xe2"}}, NextCursor: "c1", HasNextPage: true},
		},
	}

	ls, err := NewReader(chain, blobs).ListAll(context.Background(), "0xmarket")
	require.NoError(t, err)
	for range ls.All() {
		break
	}
	assert.Len(t, chain.cursors, 1)
}

func TestListAll_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing marketplace", func(t *testing.T) {
		_, err := NewReader(&fakeChain{}, blobstore.NewMemory()).ListAll(ctx, "0xnope")
		require.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("no table", func(t *testing.T) {
		chain := &fakeChain{objects: map[string]string{"0xm": `{"data":{"content":{"fields":{}}}}`}}
		_, err := NewReader(chain, blobstore.NewMemory()).ListAll(ctx, "0xm")
		require.ErrorIs(t, err, ErrShape)
	})

	t.Run("paging failure", func(t *testing.T) {
		boom := errors.New("rpc down")
		chain := &fakeChain{objects: map[string]string{"0xmarket": marketplaceJSON}, pageErr: boom}
		ls, err := NewReader(chain, blobstore.NewMemory()).ListAll(ctx, "0xmarket")
		require.NoError(t, err)
		for range ls.All() {
			t.Fatal("unexpected summary")
		}
		require.ErrorIs(t, ls.Err(), boom)
	})
}

func TestTableID_Shapes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"nested fields", marketplaceJSON, "0xtable"},
		{"id object", `{"data":{"content":{"fields":{"prompts":{"id":{"id":"0xa"}}}}}}`, "0xa"},
		{"flat id", `{"data":{"content":{"fields":{"prompts":{"id":"0xb"}}}}}`, "0xb"},
		{"bare", `{"data":{"content":{"fields":{"prompts":"0xc"}}}}`, "0xc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TableID([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeRecord(t *testing.T) {
	rec, err := DecodeRecord("0xe", []byte(`{"data":{"content":{"fields":{"value":{"metadata_uri":"m","encrypted_prompt_uri":"e","price":7,"test_price":"1"}}}}}`))
	require.NoError(t, err)
	assert.Equal(t, &Record{ListingID: "0xe", MetadataBlobID: "m", EncryptedBlobID: "e", Price: 7, TestPrice: 1}, rec)

	_, err = DecodeRecord("0xe", []byte(`{"data":{"content":{"fields":{"value":{"metadata_uri":"m"}}}}}`))
	require.ErrorIs(t, err, ErrShape)

	_, err = DecodeRecord("0xe", []byte(`{"data":{}}`))
	require.ErrorIs(t, err, ErrShape)

	rec, err = DecodeRecord("0xe", []byte(`{"data":{"content":{"fields":{"value":{"metadata_uri":"m","price":"18446744073709551615","test_price":0}}}}}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(18446744073709551615), rec.Price)

	for _, prices := range []string{
		`"price":"abc","test_price":"1"`,
		`"price":"5","test_price":"-5"`,
		`"price":-5,"test_price":1`,
		`"price":1.5,"test_price":1`,
		`"price":"","test_price":1`,
		`"price":"18446744073709551616","test_price":1`,
		`"price":true,"test_price":1`,
	} {
		_, err := DecodeRecord("0xe", []byte(`{"data":{"content":{"fields":{"value":{"metadata_uri":"m",`+prices+`}}}}}`))
		assert.ErrorIs(t, err, ErrShape, prices)
	}
}

func TestReader_Get(t *testing.T) {
	blobs := blobstore.NewMemory()
	m := storeMeta(t, blobs, "single")
	chain := &fakeChain{objects: map[string]string{"0xe1": entryJSON(m, "enc", 3_000_000_000, 0)}}

	s, err := NewReader(chain, blobs, WithExchangeRate(2)).Get(context.Background(), "0xe1")
	require.NoError(t, err)
	assert.InDelta(t, 6.0, s.Price, 1e-9)

	_, err = NewReader(chain, blobs).Get(context.Background(), "0xmissing")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestParseMetadata(t *testing.T) {
	_, err := ParseMetadata([]byte("{"))
	require.Error(t, err)
	_, err = ParseMetadata([]byte(`{"description":"no title"}`))
	require.Error(t, err)
}
