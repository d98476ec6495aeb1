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

func (s *Service) CreatePersonnel(ctx context.Context, req domain.PersonnelCreateRequest) (domain.DeliveryPersonnel, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapDeliveryWrite)
	if err != nil {
		return domain.DeliveryPersonnel{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" || !phonePattern.MatchString(req.Phone) {
		return domain.DeliveryPersonnel{}, store.ErrValidation
	}

	p := domain.DeliveryPersonnel{
		ID:            xid.New("dp"),
		OwnerID:       ownerID,
		Name:          req.Name,
		Phone:         req.Phone,
		VehicleNumber: strings.TrimSpace(req.VehicleNumber),
		Availability:  domain.PersonnelAvailable,
		Active:        true,
		CreatedAt:     time.Now().UTC(),
	}

	created, err := s.repo.CreatePersonnel(ctx, p)
	if err != nil {
		return domain.DeliveryPersonnel{}, err
	}

	s.logAudit(ctx, "personnel_create", domain.ResourcePersonnel, created.ID, fmt.Sprintf("name=%s", created.Name))
	return *created, nil
}

func (s *Service) ListPersonnel(ctx context.Context) ([]domain.DeliveryPersonnel, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapDeliveryRead)
	if err != nil {
		return nil, err
	}
	return s.repo.ListPersonnel(ctx, ownerID)
}

func (s *Service) UpdatePersonnel(ctx context.Context, personnelID string, req domain.PersonnelUpdateRequest) (domain.DeliveryPersonnel, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapDeliveryWrite)
	if err != nil {
		return domain.DeliveryPersonnel{}, err
	}

	existing, err := s.repo.GetPersonnelByID(ctx, ownerID, personnelID)
	if err != nil {
		return domain.DeliveryPersonnel{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.DeliveryPersonnel{}, store.ErrValidation
		}
		updated.Name = name
	}
	if req.Phone != nil {
		phone := strings.TrimSpace(*req.Phone)
		if !phonePattern.MatchString(phone) {
			return domain.DeliveryPersonnel{}, store.ErrValidation
		}
		updated.Phone = phone
	}
	if req.VehicleNumber != nil {
		updated.VehicleNumber = strings.TrimSpace(*req.VehicleNumber)
	}
	if req.Availability != nil {
		switch *req.Availability {
		case domain.PersonnelAvailable, domain.PersonnelOnDelivery, domain.PersonnelOffDuty:
			updated.Availability = *req.Availability
		default:
			return domain.DeliveryPersonnel{}, store.ErrValidation
		}
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdatePersonnel(ctx, updated)
	if err != nil {
		return domain.DeliveryPersonnel{}, err
	}

	s.logAudit(ctx, "personnel_update", domain.ResourcePersonnel, saved.ID,
		fmt.Sprintf("availability=%s,active=%t", saved.Availability, saved.Active))
	return *saved, nil
}

// AssignDeliveries builds a route for the personnel covering the given
// pending-delivery sales and marks each sale scheduled.
func (s *Service) AssignDeliveries(ctx context.Context, req domain.DeliveryAssignRequest) (domain.DeliveryRoute, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapDeliveryWrite)
	if err != nil {
		return domain.DeliveryRoute{}, err
	}
	if req.PersonnelID == "" || len(req.SaleIDs) == 0 {
		return domain.DeliveryRoute{}, store.ErrValidation
	}

	personnel, err := s.repo.GetPersonnelByID(ctx, ownerID, req.PersonnelID)
	if err != nil {
		return domain.DeliveryRoute{}, err
	}
	if !personnel.Active || personnel.Availability == domain.PersonnelOffDuty {
		return domain.DeliveryRoute{}, fmt.Errorf("%w: personnel unavailable", store.ErrConflict)
	}

	routeDate := time.Now().UTC()
	if strings.TrimSpace(req.Date) != "" {
		parsed, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			return domain.DeliveryRoute{}, store.ErrValidation
		}
		routeDate = parsed.UTC()
	}

	stops := make([]domain.DeliveryStop, 0, len(req.SaleIDs))
	sales := make([]*domain.Sale, 0, len(req.SaleIDs))
	for _, saleID := range req.SaleIDs {
		sale, err := s.repo.GetSaleByID(ctx, ownerID, saleID)
		if err != nil {
			return domain.DeliveryRoute{}, err
		}
		if !sale.DeliveryRequired {
			return domain.DeliveryRoute{}, fmt.Errorf("%w: sale %s has no delivery", store.ErrConflict, saleID)
		}
		if sale.DeliveryStatus != domain.DeliveryPending {
			return domain.DeliveryRoute{}, fmt.Errorf("%w: sale %s delivery is %s", store.ErrConflict, saleID, sale.DeliveryStatus)
		}
		stops = append(stops, domain.DeliveryStop{
			SaleID:  sale.ID,
			Address: sale.DeliveryAddress,
			Status:  domain.StopPending,
		})
		sales = append(sales, sale)
	}

	route := domain.DeliveryRoute{
		ID:          xid.New("route"),
		OwnerID:     ownerID,
		PersonnelID: personnel.ID,
		Date:        routeDate,
		Stops:       stops,
		Status:      domain.RouteAssigned,
		CreatedAt:   time.Now().UTC(),
	}

	created, err := s.repo.CreateRoute(ctx, route)
	if err != nil {
		return domain.DeliveryRoute{}, err
	}

	for _, sale := range sales {
		sale.DeliveryStatus = domain.DeliveryScheduled
		if _, err := s.repo.UpdateSale(ctx, *sale); err != nil {
			return domain.DeliveryRoute{}, err
		}
	}

	personnel.Availability = domain.PersonnelOnDelivery
	if _, err := s.repo.UpdatePersonnel(ctx, *personnel); err != nil {
		return domain.DeliveryRoute{}, err
	}

	s.logAudit(ctx, "delivery_assign", domain.ResourceRoute, created.ID,
		fmt.Sprintf("personnel=%s,stops=%d", personnel.ID, len(created.Stops)))

	return *created, nil
}

func (s *Service) GetRoute(ctx context.Context, routeID string) (domain.DeliveryRoute, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapDeliveryRead)
	if err != nil {
		return domain.DeliveryRoute{}, err
	}
	route, err := s.repo.GetRouteByID(ctx, ownerID, routeID)
	if err != nil {
		return domain.DeliveryRoute{}, err
	}
	return *route, nil
}

func (s *Service) ListRoutes(ctx context.Context, personnelID string) ([]domain.DeliveryRoute, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapDeliveryRead)
	if err != nil {
		return nil, err
	}
	return s.repo.ListRoutes(ctx, ownerID, personnelID)
}

// UpdateRouteStop records the outcome of one stop and cascades the result to
// the sale. When every stop is resolved the route closes and the personnel
// becomes available again.
func (s *Service) UpdateRouteStop(ctx context.Context, routeID, saleID string, req domain.RouteStopUpdateRequest) (domain.DeliveryRoute, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapDeliveryWrite)
	if err != nil {
		return domain.DeliveryRoute{}, err
	}
	if req.Status != domain.StopDelivered && req.Status != domain.StopFailed {
		return domain.DeliveryRoute{}, store.ErrValidation
	}

	route, err := s.repo.GetRouteByID(ctx, ownerID, routeID)
	if err != nil {
		return domain.DeliveryRoute{}, err
	}

	now := time.Now().UTC()
	found := false
	resolved := 0
	for i := range route.Stops {
		if route.Stops[i].SaleID == saleID {
			if route.Stops[i].Status != domain.StopPending {
				return domain.DeliveryRoute{}, fmt.Errorf("%w: stop already %s", store.ErrConflict, route.Stops[i].Status)
			}
			route.Stops[i].Status = req.Status
			if req.Status == domain.StopDelivered {
				route.Stops[i].DeliveredAt = &now
			}
			found = true
		}
		if route.Stops[i].Status != domain.StopPending {
			resolved++
		}
	}
	if !found {
		return domain.DeliveryRoute{}, store.ErrNotFound
	}

	route.Status = domain.RouteInProgress
	if resolved == len(route.Stops) {
		route.Status = domain.RouteCompleted
	}

	sale, err := s.repo.GetSaleByID(ctx, ownerID, saleID)
	if err != nil {
		return domain.DeliveryRoute{}, err
	}
	if req.Status == domain.StopDelivered {
		sale.DeliveryStatus = domain.DeliveryDelivered
		sale.DeliveredAt = &now
	} else {
		sale.DeliveryStatus = domain.DeliveryFailed
	}
	if _, err := s.repo.UpdateSale(ctx, *sale); err != nil {
		return domain.DeliveryRoute{}, err
	}

	saved, err := s.repo.UpdateRoute(ctx, *route)
	if err != nil {
		return domain.DeliveryRoute{}, err
	}

	if saved.Status == domain.RouteCompleted {
		if personnel, err := s.repo.GetPersonnelByID(ctx, ownerID, saved.PersonnelID); err == nil {
			personnel.Availability = domain.PersonnelAvailable
			if _, err := s.repo.UpdatePersonnel(ctx, *personnel); err != nil {
				s.logAudit(ctx, "personnel_release_failed", domain.ResourcePersonnel, personnel.ID, err.Error())
			}
		}
	}

	s.logAudit(ctx, "route_stop_update", domain.ResourceRoute, saved.ID,
		fmt.Sprintf("sale=%s,status=%s", saleID, req.Status))

	return *saved, nil
}
