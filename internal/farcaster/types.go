package farcaster

import "time"

// Cast is a single public post on the social graph. Casts are sourced
// externally and never mutated by the pipeline.
type Cast struct {
	Hash      string    `json:"hash"`
	AuthorFID int64     `json:"author_fid"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ManagedSigner is a delegated posting credential provisioned per user.
type ManagedSigner struct {
	SignerUUID string `json:"signer_uuid"`
	PublicKey  string `json:"signer_public_key"`
	Status     string `json:"status"`
}

// PublishReceipt confirms a successfully created cast.
type PublishReceipt struct {
	CastHash    string
	PublishedAt time.Time
}

type castEnvelope struct {
	Hash   string `json:"hash"`
	Text   string `json:"text"`
	Author struct {
		FID      int64  `json:"fid"`
		Username string `json:"username"`
	} `json:"author"`
	Timestamp time.Time `json:"timestamp"`
}

type feedResponse struct {
	Casts []castEnvelope `json:"casts"`
}

type publishRequest struct {
	SignerUUID     string `json:"signer_uuid"`
	Text           string `json:"text"`
	Parent         string `json:"parent,omitempty"`
	IdempotencyKey string `json:"idem,omitempty"`
}

type publishResponse struct {
	Cast struct {
		Hash      string    `json:"hash"`
		Timestamp time.Time `json:"timestamp"`
	} `json:"cast"`
}

type signerResponse struct {
	SignerUUID string `json:"signer_uuid"`
	PublicKey  string `json:"signer_public_key"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

type createSignerRequest struct {
	FID int64 `json:"fid"`
}
