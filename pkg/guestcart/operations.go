package guestcart

import (
	"context"

	"julianmorley.ca/con-plar/boxcart/pkg/models"
	"julianmorley.ca/con-plar/boxcart/pkg/reconcile"
)

func (s *Store) Get(ctx context.Context) (*models.Cart, error) {
	return s.submit(ctx, &request{op: "get"})
}

// Add increments the line for product or inserts a new one and captures the
// product's current snapshot on the line. A non-empty tier re-stamps the cart;
// an unknown tier is InvalidArgument.
func (s *Store) Add(ctx context.Context, product models.ProductSnapshot, quantityBoxes int, tier models.ClientTier) (*models.AddResult, error) {
	if tier != "" {
		parsed, err := models.ParseClientTier(string(tier))
		if err != nil {
			return nil, err
		}
		tier = parsed
	}
	if product.ProductID == "" {
		return nil, models.NewCartErrorf(models.KindInvalidArgument, "add", models.ErrMsgProductRequired)
	}
	if quantityBoxes <= 0 {
		return nil, models.NewCartErrorf(models.KindInvalidArgument, "add", models.ErrMsgQuantityPositive)
	}

	res := &models.AddResult{}
	cart, err := s.submit(ctx, &request{op: "add", mutate: func(cart *models.Cart) (bool, error) {
		if tier != "" {
			cart.ClientTier = tier
		}
		if i, ok := cart.LineByProduct(product.ProductID); ok {
			cart.Lines[i].QuantityBoxes += quantityBoxes
			cart.Lines[i].PriceSnapshot = product
			res.LineID = cart.Lines[i].ID
			return true, nil
		}
		line := models.CartLine{
			ID:            s.newID(),
			ProductID:     product.ProductID,
			QuantityBoxes: quantityBoxes,
			PriceSnapshot: product,
			AddedAt:       s.now(),
		}
		cart.Lines = append(cart.Lines, line)
		res.LineID = line.ID
		res.Inserted = true
		return true, nil
	}})
	if cart == nil {
		return nil, err
	}
	res.Cart = cart
	return res, err
}

// SetQuantity overwrites a line's quantity; zero or less removes the line.
// Removing an unknown line is a no-op, resizing one is NotFound.
func (s *Store) SetQuantity(ctx context.Context, lineID string, quantityBoxes int) (*models.Cart, error) {
	return s.submit(ctx, &request{op: "set quantity", mutate: func(cart *models.Cart) (bool, error) {
		i, ok := cart.LineByID(lineID)
		if !ok {
			if quantityBoxes <= 0 {
				return false, nil
			}
			return false, models.NewCartErrorf(models.KindNotFound, "set quantity", "%s: %s", models.ErrMsgLineNotFound, lineID)
		}
		if quantityBoxes <= 0 {
			cart.Lines = append(cart.Lines[:i], cart.Lines[i+1:]...)
			return true, nil
		}
		cart.Lines[i].QuantityBoxes = quantityBoxes
		return true, nil
	}})
}

func (s *Store) Remove(ctx context.Context, lineID string) (*models.Cart, error) {
	return s.SetQuantity(ctx, lineID, 0)
}

// Clear deletes the persisted record.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.submit(ctx, &request{op: "clear", clear: true})
	return err
}

// SetTier re-stamps the cart tier; quantities are untouched and every line is
// re-priced.
func (s *Store) SetTier(ctx context.Context, tier models.ClientTier) (*models.Cart, error) {
	tier, err := models.ParseClientTier(string(tier))
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, &request{op: "set tier", mutate: func(cart *models.Cart) (bool, error) {
		if cart.ClientTier == tier {
			return false, nil
		}
		cart.ClientTier = tier
		return true, nil
	}})
}

// Drain takes quantities already handed to the server out of the cart, per
// product. Lines that reach zero are removed; anything added beyond the
// submitted quantities stays for a later merge.
func (s *Store) Drain(ctx context.Context, submitted map[string]int) (*models.Cart, error) {
	return s.submit(ctx, &request{op: "drain", mutate: func(cart *models.Cart) (bool, error) {
		if cart.IsEmpty() {
			return false, nil
		}
		kept := make([]models.CartLine, 0, len(cart.Lines))
		for _, line := range cart.Lines {
			line.QuantityBoxes -= submitted[line.ProductID]
			if line.QuantityBoxes > 0 {
				kept = append(kept, line)
			}
		}
		cart.Lines = kept
		return true, nil
	}})
}

// Reconcile validates the stored lines for the products in checked against
// truth and applies the repairs, all against the cart as committed when the
// mutation runs. A checked product missing from truth is dropped as not
// found. Lines for products outside checked were never looked up and pass
// through untouched. The result's AcceptedLines is the repaired cart.
func (s *Store) Reconcile(ctx context.Context, checked []string, truth map[string]models.ProductSnapshot) (*models.ValidationResult, *models.Cart, error) {
	inScope := make(map[string]bool, len(checked))
	for _, id := range checked {
		inScope[id] = true
	}

	var result *models.ValidationResult
	// Waits for the worker even if ctx ends so result is never read early.
	cart, err := s.submit(context.WithoutCancel(ctx), &request{op: "reconcile", mutate: func(cart *models.Cart) (bool, error) {
		subject := &models.Cart{ClientTier: cart.ClientTier}
		for _, line := range cart.Lines {
			if inScope[line.ProductID] {
				subject.Lines = append(subject.Lines, line)
			}
		}

		res := reconcile.Validate(subject, truth)
		result = &res
		if !reconcile.Changed(subject, res) {
			return false, nil
		}

		accepted := make(map[string]models.CartLine, len(res.AcceptedLines))
		for _, line := range res.AcceptedLines {
			accepted[line.ID] = line
		}
		kept := make([]models.CartLine, 0, len(cart.Lines))
		for _, line := range cart.Lines {
			if !inScope[line.ProductID] {
				kept = append(kept, line)
				continue
			}
			if repaired, ok := accepted[line.ID]; ok {
				kept = append(kept, repaired)
			}
		}
		cart.Lines = kept
		return true, nil
	}})
	if result == nil {
		return nil, cart, err
	}
	if cart != nil {
		result.AcceptedLines = append([]models.CartLine{}, cart.Lines...)
	}
	return result, cart, err
}

// Persist writes cart as the stored state. It is the retry path after a
// mutation returned a storage error together with the mutated cart.
func (s *Store) Persist(ctx context.Context, cart *models.Cart) (*models.Cart, error) {
	if cart == nil {
		return nil, models.NewCartErrorf(models.KindInvalidArgument, "persist", "nil cart")
	}
	snapshot := cart.Clone()
	return s.submit(ctx, &request{op: "persist", mutate: func(stored *models.Cart) (bool, error) {
		stored.Lines = snapshot.Lines
		stored.ClientTier = snapshot.ClientTier.Normalize()
		return true, nil
	}})
}
