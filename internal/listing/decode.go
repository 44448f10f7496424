package listing

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
)

var ErrShape = errors.New("unexpected ledger object shape")

// tablePaths are tried in order to find the prompts table id inside the
// marketplace object. Some SDK renderings wrap UID as {id:{id}} and some
// flatten it.
var tablePaths = []string{
	"data.content.fields.prompts.fields.id.id",
	"data.content.fields.prompts.id.id",
	"data.content.fields.prompts.id",
	"data.content.fields.prompts",
}

// recordPaths locate the record fields of a dynamic field entry: the value
// wrapped one level deeper first, then the bare value.
var recordPaths = []string{
	"data.content.fields.value.fields",
	"data.content.fields.value",
}

// Record is a marketplace entry as stored on the ledger.
type Record struct {
	ListingID       string
	MetadataBlobID  string
	EncryptedBlobID string
	Price           uint64
	TestPrice       uint64
	Seller          string
}

// TableID extracts the prompts table id from a marketplace object.
func TableID(object []byte) (string, error) {
	for _, p := range tablePaths {
		r := gjson.GetBytes(object, p)
		if r.Type == gjson.String && r.Str != "" {
			return r.Str, nil
		}
	}
	return "", fmt.Errorf("%w: no prompts table", ErrShape)
}

// DecodeRecord extracts a Record from a dynamic field object.
func DecodeRecord(listingID string, object []byte) (*Record, error) {
	for _, p := range recordPaths {
		f := gjson.GetBytes(object, p)
		if !f.IsObject() {
			continue
		}
		meta := f.Get("metadata_uri")
		if meta.Type != gjson.String || meta.Str == "" {
			continue
		}

		price, ok := u64(f.Get("price"))
		if !ok {
			return nil, fmt.Errorf("%w: price", ErrShape)
		}
		testPrice, ok := u64(f.Get("test_price"))
		if !ok {
			return nil, fmt.Errorf("%w: test_price", ErrShape)
		}

		return &Record{
			ListingID:       listingID,
			MetadataBlobID:  meta.Str,
			EncryptedBlobID: f.Get("encrypted_prompt_uri").String(),
			Price:           price,
			TestPrice:       testPrice,
			Seller:          f.Get("seller").String(),
		}, nil
	}
	return nil, fmt.Errorf("%w: no record fields", ErrShape)
}

// u64 accepts the decimal string rendering of u64 used by the JSON-RPC API
// as well as plain integral numbers. Anything signed, fractional or non
// numeric is rejected.
func u64(r gjson.Result) (uint64, bool) {
	var text string
	switch r.Type {
	case gjson.String:
		text = r.Str
	case gjson.Number:
		text = r.Raw
	default:
		return 0, false
	}
	v, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
