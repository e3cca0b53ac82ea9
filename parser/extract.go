// Package parser turns raw marketplace search results into flat product records.
package parser

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/aluiziolira/meli-harvester/models"
)

// Extract decodes a page of raw products into one record per product id.
// Products without an id, or repeating an id already seen on the page, are
// dropped and counted. Fields that are missing, null or of an unexpected type
// resolve to nil individually. questions may be nil.
func Extract(raw []json.RawMessage, questions map[string]models.QuestionFields) ([]*models.ProductRecord, int) {
	ids, dropped := ProductIDs(raw)

	scalars := collect(raw, extractScalar)
	sellers := collect(raw, extractSeller)
	logistics := collect(raw, extractLogistics)
	updates := collect(raw, extractUpdate)

	return Merge(ids, scalars, sellers, logistics, updates, questions), dropped
}

// ProductIDs returns the distinct product ids of a page in order, plus the
// number of entries that had no usable id or repeated one.
func ProductIDs(raw []json.RawMessage) ([]string, int) {
	ids := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	dropped := 0
	for _, item := range raw {
		id, ok := productID(item)
		if !ok {
			dropped++
			continue
		}
		if _, dup := seen[id]; dup {
			dropped++
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, dropped
}

// Merge left-joins every attribute group onto ids. A product absent from a
// group keeps that group's fields nil instead of being dropped.
func Merge(
	ids []string,
	scalars map[string]models.ScalarFields,
	sellers map[string]models.SellerFields,
	logistics map[string]models.LogisticsFields,
	updates map[string]models.UpdateFields,
	questions map[string]models.QuestionFields,
) []*models.ProductRecord {
	records := make([]*models.ProductRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, &models.ProductRecord{
			ID:              id,
			ScalarFields:    scalars[id],
			SellerFields:    sellers[id],
			LogisticsFields: logistics[id],
			UpdateFields:    updates[id],
			QuestionFields:  questions[id],
		})
	}
	return records
}

func collect[T any](raw []json.RawMessage, extract func(json.RawMessage) (T, bool)) map[string]T {
	out := make(map[string]T, len(raw))
	for _, item := range raw {
		id, ok := productID(item)
		if !ok {
			continue
		}
		if _, dup := out[id]; dup {
			continue
		}
		if fields, ok := extract(item); ok {
			out[id] = fields
		}
	}
	return out
}

func productID(item json.RawMessage) (string, bool) {
	var view struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(item, &view); err != nil {
		return "", false
	}
	raw := bytes.TrimSpace(view.ID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		// numeric ids are kept in their literal form
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", false
		}
		id = n.String()
	}
	id = strings.TrimSpace(id)
	return id, id != ""
}

// object is a decoded JSON object whose members are decoded one at a time,
// so a mistyped member only nulls itself.
type object map[string]json.RawMessage

func decodeObject(raw json.RawMessage) (object, bool) {
	var obj object
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// child returns the nested object under key, or nil.
func (o object) child(key string) object {
	raw, ok := o[key]
	if !ok {
		return nil
	}
	obj, _ := decodeObject(raw)
	return obj
}

func (o object) present(key string) bool {
	raw, ok := o[key]
	return ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// member decodes o[key] into T. Missing, null and mistyped values give nil.
func member[T any](o object, key string) *T {
	if !o.present(key) {
		return nil
	}
	var v T
	if err := json.Unmarshal(o[key], &v); err != nil {
		return nil
	}
	return &v
}

func extractScalar(item json.RawMessage) (models.ScalarFields, bool) {
	obj, ok := decodeObject(item)
	if !ok {
		return models.ScalarFields{}, false
	}
	fields := models.ScalarFields{
		CategoryID:         member[string](obj, "category_id"),
		Title:              member[string](obj, "title"),
		Price:              member[float64](obj, "price"),
		OriginalPrice:      member[float64](obj, "original_price"),
		AvailableQuantity:  member[int](obj, "available_quantity"),
		SoldQuantity:       member[int](obj, "sold_quantity"),
		BuyingMode:         member[string](obj, "buying_mode"),
		ListingType:        member[string](obj, "listing_type_id"),
		AcceptsMercadoPago: member[bool](obj, "accepts_mercadopago"),
		Condition:          member[string](obj, "condition"),
	}
	if fields.Title != nil {
		title := NormalizeText(*fields.Title)
		fields.Title = &title
	}
	return fields, true
}

func extractSeller(item json.RawMessage) (models.SellerFields, bool) {
	obj, ok := decodeObject(item)
	if !ok {
		return models.SellerFields{}, false
	}
	rep := obj.child("seller").child("seller_reputation")
	ratings := rep.child("transactions").child("ratings")
	return models.SellerFields{
		SellerLevel:       member[string](rep, "level_id"),
		SellerPowerSeller: member[string](rep, "power_seller_status"),
		PositiveRating:    member[float64](ratings, "positive"),
		NegativeRating:    member[float64](ratings, "negative"),
		NeutralRating:     member[float64](ratings, "neutral"),
	}, true
}

func extractLogistics(item json.RawMessage) (models.LogisticsFields, bool) {
	obj, ok := decodeObject(item)
	if !ok {
		return models.LogisticsFields{}, false
	}
	shipping := obj.child("shipping")
	fields := models.LogisticsFields{
		FreeShipping: member[bool](shipping, "free_shipping"),
		StorePickup:  member[bool](shipping, "store_pick_up"),
	}
	if tags := member[[]json.RawMessage](obj, "tags"); tags != nil {
		n := len(*tags)
		fields.TagCount = &n
	}
	official := obj.present("official_store_id")
	fields.IsOfficialStore = &official
	return fields, true
}

func extractUpdate(item json.RawMessage) (models.UpdateFields, bool) {
	obj, ok := decodeObject(item)
	if !ok {
		return models.UpdateFields{}, false
	}
	thumbnail := member[string](obj, "thumbnail")
	if thumbnail == nil {
		return models.UpdateFields{}, true
	}
	month, year := ParseThumbnailDate(*thumbnail)
	return models.UpdateFields{MonthUpdate: month, YearUpdate: year}, true
}

// NormalizeText collapses surrounding and repeated inner whitespace.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
