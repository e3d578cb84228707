package service

import "waybill/internal/domain"

// RolePermissionChecker is the default capability mapping: admins manage,
// couriers deliver, everyone authenticated may view. Deployments embedding
// the engine swap in their own checker.
type RolePermissionChecker struct{}

func NewRolePermissionChecker() *RolePermissionChecker {
	return &RolePermissionChecker{}
}

func (RolePermissionChecker) Allowed(actor domain.Actor, permission Permission) bool {
	switch permission {
	case PermissionViewOrders:
		return actor.ID != ""
	case PermissionManageOrders:
		return actor.Role == domain.ActorAdmin || actor.Role == domain.ActorSystem
	case PermissionDeliverOrders:
		return actor.Role == domain.ActorCourier
	default:
		return false
	}
}
