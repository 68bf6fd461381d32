package auth

// Known OAuth scopes used by the reconciliation API.
const (
	ScopeActivitiesRead  = "activities:read"
	ScopeActivitiesWrite = "activities:write"
	ScopeReconcileAdmin  = "reconcile:admin"
)
