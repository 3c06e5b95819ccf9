package memory

import (
	"context"
	"log"

	"serene/backend/internal/domain"
	"serene/backend/internal/store"
	"serene/backend/internal/xid"
)

// NewSeeded returns a store with a small demo catalogue for dev mode.
func NewSeeded() *Store {
	s := New()
	err := s.WithTx(context.Background(), func(tx store.Tx) error {
		for _, b := range []domain.Buyer{
			{Name: "Rakib Hassan", Phone: "01712345678", Address: "Mirpur 10, Dhaka", Notes: "Prefers Fenty products. Pays promptly."},
			{Name: "Suma Akter", Phone: "01812345679", Address: "Dhanmondi 27, Dhaka", Notes: "VIP customer. Orders every month."},
			{Name: "Nadia Chowdhury", Phone: "01712345681", Address: "Banani, Dhaka", Notes: "Wants shade swatches before ordering."},
			{Name: "Priya Das", Phone: "01312345685", Address: "Sylhet Zindabazar", Notes: "Recurring buyer. Loves NYX."},
		} {
			b.ID = xid.New("buyer")
			if _, err := tx.CreateBuyer(context.Background(), b); err != nil {
				return err
			}
		}

		for _, item := range []domain.BdInventoryItem{
			{ProductIdentity: ident("Pro Filt'r Soft Matte Longwear Foundation", "Fenty Beauty", "210W"), Qty: 4, BuyPriceBDT: price(2200), SellPriceBDT: price(3200)},
			{ProductIdentity: ident("Soft Pinch Liquid Blush", "Rare Beauty", "Hope"), Qty: 3, BuyPriceBDT: price(1800), SellPriceBDT: price(2600)},
			{ProductIdentity: ident("Butter Lip Balm", "NYX Professional", "Vanilla Cream"), Qty: 6, BuyPriceBDT: price(800), SellPriceBDT: price(1200)},
			{ProductIdentity: ident("Moisturizing Cream", "CeraVe", ""), Qty: 5, BuyPriceBDT: price(1400), SellPriceBDT: price(2000)},
		} {
			item.ID = xid.New("bd")
			item.Tags = []string{"Stocked"}
			if _, err := tx.CreateBdItem(context.Background(), item); err != nil {
				return err
			}
		}

		for _, item := range []domain.UsaInventoryItem{
			{ProductIdentity: ident("Pro Filt'r Soft Matte Longwear Foundation", "Fenty Beauty", "320 Teak"), Qty: 5, BuyPriceUSD: price(26), WeightG: price(90)},
			{ProductIdentity: ident("Soft Pinch Liquid Blush", "Rare Beauty", "Joy"), Qty: 4, BuyPriceUSD: price(22), WeightG: price(55)},
			{ProductIdentity: ident("Hydro Boost Water Gel", "Neutrogena", ""), Qty: 6, BuyPriceUSD: price(18), WeightG: price(120)},
			{ProductIdentity: ident("Original Lip Balm", "Burt's Bees", ""), Qty: 10, BuyPriceUSD: price(5), WeightG: price(30)},
		} {
			item.ID = xid.New("usa")
			item.Tags = []string{"Stocked"}
			if _, err := tx.CreateUsaItem(context.Background(), item); err != nil {
				return err
			}
		}

		_, err := tx.CreateShipment(context.Background(), domain.Shipment{
			ID:     xid.New("shp"),
			Name:   "February Batch 1",
			Status: domain.ShipmentPacking,
			Notes:  "Expected arrival Feb 20.",
		})
		return err
	})
	if err != nil {
		log.Fatalf("[memory-store] seed failed: %v", err)
	}
	return s
}

func ident(name, brand, shade string) domain.ProductIdentity {
	id := domain.ProductIdentity{ProductName: name}
	if brand != "" {
		id.Brand = &brand
	}
	if shade != "" {
		id.Shade = &shade
	}
	return id
}

func price(v float64) *float64 {
	return &v
}
