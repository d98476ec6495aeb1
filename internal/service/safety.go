package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lpgdepot/backend/internal/domain"
	"lpgdepot/backend/internal/store"
	"lpgdepot/backend/internal/xid"
)

// checklistTemplate returns the default item set for a checklist type.
func checklistTemplate(checklistType string) []domain.ChecklistItem {
	var entries []struct {
		category string
		item     string
	}
	switch checklistType {
	case domain.ChecklistNewConnection:
		entries = []struct {
			category string
			item     string
		}{
			{"installation", "Cylinder placed upright on a level surface"},
			{"installation", "Regulator fitted and seated correctly"},
			{"installation", "Hose secured with clips at both ends"},
			{"leak-check", "Soap solution leak test performed at all joints"},
			{"leak-check", "No gas odour after valve opened"},
			{"education", "Customer shown how to close valve after use"},
			{"education", "Emergency contact number provided"},
		}
	case domain.ChecklistRefill:
		entries = []struct {
			category string
			item     string
		}{
			{"exchange", "Old cylinder valve closed and cap fitted"},
			{"exchange", "New cylinder seal intact before handover"},
			{"leak-check", "Soap solution leak test performed after connection"},
		}
	case domain.ChecklistInspection:
		entries = []struct {
			category string
			item     string
		}{
			{"visual", "Body free of dents, corrosion and bulges"},
			{"visual", "Valve and bung threads undamaged"},
			{"markings", "Serial number and test date stamp legible"},
		}
	default:
		return nil
	}

	items := make([]domain.ChecklistItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, domain.ChecklistItem{
			ID:       xid.New("item"),
			Category: e.category,
			Item:     e.item,
		})
	}
	return items
}

func (s *Service) CreateChecklist(ctx context.Context, req domain.ChecklistCreateRequest) (domain.SafetyChecklist, error) {
	actor, ownerID, err := s.requireCapability(ctx, domain.CapSafetyWrite)
	if err != nil {
		return domain.SafetyChecklist{}, err
	}

	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	items := checklistTemplate(req.Type)
	if items == nil {
		return domain.SafetyChecklist{}, store.ErrValidation
	}
	if req.SaleID != "" {
		if _, err := s.repo.GetSaleByID(ctx, ownerID, req.SaleID); err != nil {
			return domain.SafetyChecklist{}, err
		}
	}

	cl := domain.SafetyChecklist{
		ID:         xid.New("chk"),
		OwnerID:    ownerID,
		SaleID:     req.SaleID,
		CustomerID: req.CustomerID,
		Type:       req.Type,
		Items:      items,
		Status:     domain.ChecklistPending,
		CreatedBy:  actor.Username,
		CreatedAt:  time.Now().UTC(),
	}

	created, err := s.repo.CreateChecklist(ctx, cl)
	if err != nil {
		return domain.SafetyChecklist{}, err
	}

	s.logAudit(ctx, "checklist_create", domain.ResourceChecklist, created.ID,
		fmt.Sprintf("type=%s,items=%d", created.Type, len(created.Items)))

	return *created, nil
}

func (s *Service) GetChecklist(ctx context.Context, checklistID string) (domain.SafetyChecklist, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapSafetyRead)
	if err != nil {
		return domain.SafetyChecklist{}, err
	}
	cl, err := s.repo.GetChecklistByID(ctx, ownerID, checklistID)
	if err != nil {
		return domain.SafetyChecklist{}, err
	}
	return *cl, nil
}

// GetChecklistForSale finds the checklist attached to a sale, if any.
func (s *Service) GetChecklistForSale(ctx context.Context, saleID string) (domain.SafetyChecklist, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapSafetyRead)
	if err != nil {
		return domain.SafetyChecklist{}, err
	}
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.SafetyChecklist{}, fmt.Errorf("%w: sale id required", store.ErrValidation)
	}
	checklists, err := s.repo.ListChecklists(ctx, ownerID, "")
	if err != nil {
		return domain.SafetyChecklist{}, err
	}
	for _, cl := range checklists {
		if cl.SaleID == saleID {
			return cl, nil
		}
	}
	return domain.SafetyChecklist{}, store.ErrNotFound
}

func (s *Service) ListChecklists(ctx context.Context, status string) ([]domain.SafetyChecklist, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapSafetyRead)
	if err != nil {
		return nil, err
	}
	status = strings.ToLower(strings.TrimSpace(status))
	if status != "" && status != domain.ChecklistPending && status != domain.ChecklistCompleted {
		return nil, store.ErrValidation
	}
	return s.repo.ListChecklists(ctx, ownerID, status)
}

func (s *Service) CheckChecklistItem(ctx context.Context, checklistID, itemID string, req domain.ChecklistItemCheckRequest) (domain.SafetyChecklist, error) {
	actor, ownerID, err := s.requireCapability(ctx, domain.CapSafetyWrite)
	if err != nil {
		return domain.SafetyChecklist{}, err
	}

	cl, err := s.repo.GetChecklistByID(ctx, ownerID, checklistID)
	if err != nil {
		return domain.SafetyChecklist{}, err
	}
	if cl.Status == domain.ChecklistCompleted {
		return domain.SafetyChecklist{}, fmt.Errorf("%w: checklist already completed", store.ErrConflict)
	}

	now := time.Now().UTC()
	found := false
	for i := range cl.Items {
		if cl.Items[i].ID == itemID {
			cl.Items[i].Checked = true
			cl.Items[i].CheckedBy = actor.Username
			cl.Items[i].CheckedAt = &now
			cl.Items[i].Note = strings.TrimSpace(req.Note)
			found = true
			break
		}
	}
	if !found {
		return domain.SafetyChecklist{}, store.ErrNotFound
	}

	saved, err := s.repo.UpdateChecklist(ctx, *cl)
	if err != nil {
		return domain.SafetyChecklist{}, err
	}

	s.logAudit(ctx, "checklist_item_check", domain.ResourceChecklist, saved.ID, fmt.Sprintf("item=%s", itemID))
	return *saved, nil
}

// AcknowledgeChecklist records the customer sign-off. The checklist only
// completes when every item has been checked first.
func (s *Service) AcknowledgeChecklist(ctx context.Context, checklistID string, req domain.AcknowledgeRequest) (domain.SafetyChecklist, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapSafetyWrite)
	if err != nil {
		return domain.SafetyChecklist{}, err
	}

	req.Signature = strings.TrimSpace(req.Signature)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	if req.Signature == "" || req.CustomerName == "" {
		return domain.SafetyChecklist{}, store.ErrValidation
	}

	cl, err := s.repo.GetChecklistByID(ctx, ownerID, checklistID)
	if err != nil {
		return domain.SafetyChecklist{}, err
	}
	if cl.Status == domain.ChecklistCompleted {
		return domain.SafetyChecklist{}, fmt.Errorf("%w: checklist already completed", store.ErrConflict)
	}
	for _, item := range cl.Items {
		if !item.Checked {
			return domain.SafetyChecklist{}, fmt.Errorf("%w: unchecked items remain", store.ErrConflict)
		}
	}

	cl.Acknowledgment = &domain.Acknowledgment{
		Signature:    req.Signature,
		CustomerName: req.CustomerName,
		At:           time.Now().UTC(),
	}
	cl.Status = domain.ChecklistCompleted

	saved, err := s.repo.UpdateChecklist(ctx, *cl)
	if err != nil {
		return domain.SafetyChecklist{}, err
	}

	s.logAudit(ctx, "checklist_acknowledge", domain.ResourceChecklist, saved.ID,
		fmt.Sprintf("customer=%s", req.CustomerName))

	return *saved, nil
}
