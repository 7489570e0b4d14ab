package cache

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/retail-ledger/internal/domain/coupon"
)

// encodeCoupon writes c as a JSON object. Decimals travel as strings so no
// precision is lost; unset optional fields are omitted.
func encodeCoupon(c coupon.Coupon) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(c.ID) })
		e.Field("store_id", func(e *jx.Encoder) { e.Int64(c.StoreID) })
		e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
		if c.Description != "" {
			e.Field("description", func(e *jx.Encoder) { e.Str(c.Description) })
		}
		if c.Category != "" {
			e.Field("category", func(e *jx.Encoder) { e.Str(c.Category) })
		}
		if c.ProductID != nil {
			e.Field("product_id", func(e *jx.Encoder) { e.Int64(*c.ProductID) })
		}
		e.Field("valid_from", func(e *jx.Encoder) { e.Str(c.ValidFrom.Format(time.RFC3339Nano)) })
		if c.ValidUntil != nil {
			e.Field("valid_until", func(e *jx.Encoder) { e.Str(c.ValidUntil.Format(time.RFC3339Nano)) })
		}
		if c.Percentage != nil {
			e.Field("percentage", func(e *jx.Encoder) { e.Str(c.Percentage.String()) })
		}
		if c.Amount != nil {
			e.Field("amount", func(e *jx.Encoder) { e.Str(c.Amount.String()) })
		}
		e.Field("created_at", func(e *jx.Encoder) { e.Str(c.CreatedAt.Format(time.RFC3339Nano)) })
	})

	// The pooled buffer is reused, so hand out a copy.
	return append([]byte(nil), e.Bytes()...)
}

func decodeCoupon(data []byte) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			c.ID, err = d.Int64()
		case "store_id":
			c.StoreID, err = d.Int64()
		case "code":
			c.Code, err = d.Str()
		case "description":
			c.Description, err = d.Str()
		case "category":
			c.Category, err = d.Str()
		case "product_id":
			var id int64
			if id, err = d.Int64(); err == nil {
				c.ProductID = &id
			}
		case "valid_from":
			c.ValidFrom, err = decodeTime(d)
		case "valid_until":
			var t time.Time
			if t, err = decodeTime(d); err == nil {
				c.ValidUntil = &t
			}
		case "percentage":
			c.Percentage, err = decodeDecimal(d)
		case "amount":
			c.Amount, err = decodeDecimal(d)
		case "created_at":
			c.CreatedAt, err = decodeTime(d)
		default:
			err = d.Skip()
		}
		return errors.Wrapf(err, "field %q", key)
	})
	if err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "decode coupon")
	}
	return c, nil
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, s)
}

func decodeDecimal(d *jx.Decoder) (*decimal.Decimal, error) {
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
