package validation

// ReplayRequest is the payload for POST /admin/replay.
type ReplayRequest struct {
	Ref string `json:"ref" validate:"required,archive_ref"` // archive entry name, e.g. 20260301_order.created_000001.json
}
