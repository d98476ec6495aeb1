package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"lpgdepot/backend/internal/domain"
	"lpgdepot/backend/internal/store"
)

var serialNumberPattern = regexp.MustCompile(`^CYL-\d{4}-\d{6}$`)

func (s *Service) RegisterCylinder(ctx context.Context, req domain.CylinderRegisterRequest) (domain.Cylinder, error) {
	actor, ownerID, err := s.requireCapability(ctx, domain.CapCylinderWrite)
	if err != nil {
		return domain.Cylinder{}, err
	}

	req.SerialNumber = strings.ToUpper(strings.TrimSpace(req.SerialNumber))
	if !serialNumberPattern.MatchString(req.SerialNumber) {
		return domain.Cylinder{}, store.ErrValidation
	}
	if !domain.IsValidCapacity(req.Capacity) {
		return domain.Cylinder{}, store.ErrValidation
	}
	if req.TareWeight <= 0 {
		return domain.Cylinder{}, store.ErrValidation
	}

	mfgDate, err := time.Parse("2006-01-02", req.ManufacturingDate)
	if err != nil {
		return domain.Cylinder{}, store.ErrValidation
	}

	now := time.Now().UTC()
	nextDue := mfgDate.AddDate(5, 0, 0)
	if req.NextTestDue != "" {
		parsed, err := time.Parse("2006-01-02", req.NextTestDue)
		if err != nil {
			return domain.Cylinder{}, store.ErrValidation
		}
		nextDue = parsed.UTC()
	}

	cyl := domain.Cylinder{
		SerialNumber:        req.SerialNumber,
		OwnerID:             ownerID,
		Capacity:            req.Capacity,
		Manufacturer:        strings.TrimSpace(req.Manufacturer),
		ManufacturingDate:   mfgDate.UTC(),
		TareWeight:          req.TareWeight,
		CertificationNumber: strings.TrimSpace(req.CertificationNumber),
		NextTestDue:         nextDue,
		Status:              domain.CylinderInStock,
		Location:            domain.CylinderLocation{Type: domain.LocationWarehouse},
		History: []domain.CylinderEvent{{
			Action: "registered",
			Actor:  actor.Username,
			At:     now,
		}},
		Active:    true,
		CreatedAt: now,
	}

	created, err := s.repo.RegisterCylinder(ctx, cyl)
	if err != nil {
		return domain.Cylinder{}, err
	}

	s.logAudit(ctx, "cylinder_register", domain.ResourceCylinder, created.SerialNumber,
		fmt.Sprintf("capacity=%s,manufacturer=%s", created.Capacity, created.Manufacturer))

	return *created, nil
}

func (s *Service) GetCylinder(ctx context.Context, serial string) (domain.Cylinder, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapCylinderRead)
	if err != nil {
		return domain.Cylinder{}, err
	}
	cyl, err := s.repo.GetCylinderBySerial(ctx, ownerID, strings.ToUpper(strings.TrimSpace(serial)))
	if err != nil {
		return domain.Cylinder{}, err
	}
	return *cyl, nil
}

func (s *Service) ListCylinders(ctx context.Context, filter domain.CylinderFilter) ([]domain.Cylinder, int, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapCylinderRead)
	if err != nil {
		return nil, 0, err
	}
	if filter.Limit < 1 {
		filter.Limit = 50
	}
	return s.repo.ListCylinders(ctx, ownerID, filter)
}

func (s *Service) ListCylindersDueInspection(ctx context.Context, withinDays int) ([]domain.Cylinder, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapCylinderRead)
	if err != nil {
		return nil, err
	}
	if withinDays < 1 {
		withinDays = 30
	}
	before := time.Now().UTC().AddDate(0, 0, withinDays)
	return s.repo.ListCylindersDueInspection(ctx, ownerID, before)
}

func (s *Service) UpdateCylinderStatus(ctx context.Context, serial string, req domain.CylinderStatusUpdateRequest) (domain.Cylinder, error) {
	actor, ownerID, err := s.requireCapability(ctx, domain.CapCylinderWrite)
	if err != nil {
		return domain.Cylinder{}, err
	}

	cyl, err := s.repo.GetCylinderBySerial(ctx, ownerID, strings.ToUpper(strings.TrimSpace(serial)))
	if err != nil {
		return domain.Cylinder{}, err
	}
	if !domain.CanTransitionCylinder(cyl.Status, req.Status) {
		return domain.Cylinder{}, fmt.Errorf("%w: cannot move cylinder from %s to %s", store.ErrConflict, cyl.Status, req.Status)
	}

	now := time.Now().UTC()
	from := cyl.Status
	cyl.Status = req.Status
	switch req.Status {
	case domain.CylinderInStock, domain.CylinderUnderInspection, domain.CylinderCondemned:
		cyl.Location = domain.CylinderLocation{Type: domain.LocationWarehouse}
	}
	if req.Status == domain.CylinderCondemned {
		cyl.Active = false
	}
	cyl.History = append(cyl.History, domain.CylinderEvent{
		Action: fmt.Sprintf("status %s to %s", from, req.Status),
		Actor:  actor.Username,
		Note:   strings.TrimSpace(req.Note),
		At:     now,
	})

	saved, err := s.repo.UpdateCylinder(ctx, *cyl)
	if err != nil {
		return domain.Cylinder{}, err
	}

	s.logAudit(ctx, "cylinder_status_update", domain.ResourceCylinder, saved.SerialNumber,
		fmt.Sprintf("from=%s,to=%s", from, saved.Status))

	return *saved, nil
}

func (s *Service) RecordInspection(ctx context.Context, serial string, req domain.InspectionRequest) (domain.Cylinder, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapCylinderWrite)
	if err != nil {
		return domain.Cylinder{}, err
	}

	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	req.Result = strings.ToLower(strings.TrimSpace(req.Result))
	req.Inspector = strings.TrimSpace(req.Inspector)
	if req.Inspector == "" {
		return domain.Cylinder{}, store.ErrValidation
	}
	switch req.Type {
	case domain.InspectionVisual, domain.InspectionHydrostatic, domain.InspectionValve:
	default:
		return domain.Cylinder{}, store.ErrValidation
	}
	if req.Result != domain.InspectionPass && req.Result != domain.InspectionFail {
		return domain.Cylinder{}, store.ErrValidation
	}

	cyl, err := s.repo.GetCylinderBySerial(ctx, ownerID, strings.ToUpper(strings.TrimSpace(serial)))
	if err != nil {
		return domain.Cylinder{}, err
	}
	if cyl.Status == domain.CylinderCondemned {
		return domain.Cylinder{}, fmt.Errorf("%w: condemned cylinder cannot be inspected", store.ErrConflict)
	}

	inspectedAt := time.Now().UTC()
	if req.Date != "" {
		parsed, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			return domain.Cylinder{}, store.ErrValidation
		}
		inspectedAt = parsed.UTC()
	}

	// Hydrostatic tests are valid for five years, everything else for one.
	nextDue := inspectedAt.AddDate(1, 0, 0)
	if req.Type == domain.InspectionHydrostatic {
		nextDue = inspectedAt.AddDate(5, 0, 0)
	}

	cyl.Inspections = append(cyl.Inspections, domain.Inspection{
		Date:                inspectedAt,
		Type:                req.Type,
		Result:              req.Result,
		Inspector:           req.Inspector,
		CertificationNumber: strings.TrimSpace(req.CertificationNumber),
		NextDueDate:         nextDue,
		Note:                strings.TrimSpace(req.Note),
	})

	if req.Result == domain.InspectionPass {
		cyl.NextTestDue = nextDue
		if cyl.Status == domain.CylinderUnderInspection {
			cyl.Status = domain.CylinderInStock
		}
	} else if cyl.Status == domain.CylinderInStock {
		cyl.Status = domain.CylinderUnderInspection
	}

	saved, err := s.repo.UpdateCylinder(ctx, *cyl)
	if err != nil {
		return domain.Cylinder{}, err
	}

	s.logAudit(ctx, "cylinder_inspection", domain.ResourceCylinder, saved.SerialNumber,
		fmt.Sprintf("type=%s,result=%s,next_due=%s", req.Type, req.Result, nextDue.Format("2006-01-02")))

	return *saved, nil
}
