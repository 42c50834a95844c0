// Package models defines gate reviews and their signature assertions.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	id "dhfcore/pkg/domain"
)

// SignatureAssertion is the electronic-signature record attached to a gate
// review (21 CFR Part 11 style). It binds the signer's identity and intent
// to the reviewed content via a SHA-256 hash.
type SignatureAssertion struct {
	Identity    string    `json:"identity"`
	Meaning     string    `json:"meaning"`
	SignedAt    time.Time `json:"signed_at"`
	ContentHash string    `json:"content_hash"`
}

// NewSignatureAssertion hashes the reviewed content so any later change to
// the instance, decision, or comments is detectable against the stored hash.
func NewSignatureAssertion(identity, meaning string, instanceID id.InstanceID, decision id.GateDecision, comments string, signedAt time.Time) SignatureAssertion {
	h := sha256.New()
	h.Write([]byte(instanceID.String()))
	h.Write([]byte{0})
	h.Write([]byte(decision))
	h.Write([]byte{0})
	h.Write([]byte(comments))
	h.Write([]byte{0})
	h.Write([]byte(identity))
	return SignatureAssertion{
		Identity:    identity,
		Meaning:     meaning,
		SignedAt:    signedAt,
		ContentHash: hex.EncodeToString(h.Sum(nil)),
	}
}

// Verify recomputes the hash against the given content.
func (s SignatureAssertion) Verify(instanceID id.InstanceID, decision id.GateDecision, comments string) bool {
	expected := NewSignatureAssertion(s.Identity, s.Meaning, instanceID, decision, comments, s.SignedAt)
	return expected.ContentHash == s.ContentHash
}

// GateReview is the immutable record of one design review decision. A
// rejected review never blocks later reviews; an approved review is unique
// per instance.
type GateReview struct {
	ID         id.ReviewID
	InstanceID id.InstanceID
	ProjectID  id.ProjectID
	Decision   id.GateDecision
	ReviewerID id.ActorID
	Comments   string
	Signature  SignatureAssertion
	CreatedAt  time.Time
}

// NewGateReview constructs a signed review record.
func NewGateReview(instanceID id.InstanceID, projectID id.ProjectID, decision id.GateDecision, reviewer id.ActorID, identity, comments string, now time.Time) *GateReview {
	meaning := "Approval of design review gate"
	if decision == id.DecisionRejected {
		meaning = "Rejection of design review gate"
	}
	return &GateReview{
		ID:         id.NewReviewID(),
		InstanceID: instanceID,
		ProjectID:  projectID,
		Decision:   decision,
		ReviewerID: reviewer,
		Comments:   comments,
		Signature:  NewSignatureAssertion(identity, meaning, instanceID, decision, comments, now),
		CreatedAt:  now,
	}
}

// Snapshot is the audit-trail representation of a review.
type Snapshot struct {
	Decision    string `json:"decision"`
	ReviewerID  string `json:"reviewer_id"`
	Comments    string `json:"comments,omitempty"`
	ContentHash string `json:"content_hash"`
}

func (r *GateReview) Snap() Snapshot {
	return Snapshot{
		Decision:    string(r.Decision),
		ReviewerID:  r.ReviewerID.String(),
		Comments:    r.Comments,
		ContentHash: r.Signature.ContentHash,
	}
}
