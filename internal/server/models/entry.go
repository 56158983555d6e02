package models

// Entry is an encrypted vault record. The server only ever sees ciphertext.
type Entry struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	Overview      []byte `json:"overview"`
	NonceOverview []byte `json:"nonce_overview"`
	Details       []byte `json:"details"`
	NonceDetails  []byte `json:"nonce_details"`
	Deleted       bool   `json:"deleted"`
	Version       int64  `json:"version"`
}
