package model

type AuditActor struct {
	Username string `json:"username,omitempty"`
	IP       string `json:"ip,omitempty"`
}

type AuditEntry struct {
	ID         string     `json:"id"`
	Action     string     `json:"action"`
	OccurredAt string     `json:"occurred_at"`
	Actor      AuditActor `json:"actor"`
	Status     string     `json:"status"`
	Reason     string     `json:"reason,omitempty"`
}

type AuditQuery struct {
	Action   string
	Username string
	Status   string
	Limit    int
}

type AuditListData struct {
	Items []AuditEntry `json:"items"`
}
