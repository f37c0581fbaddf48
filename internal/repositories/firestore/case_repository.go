package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/waypoint-immigration/portal/internal/domain"
	pfirestore "github.com/waypoint-immigration/portal/internal/platform/firestore"
)

// CaseRepository reads cases and flips their access gate.
type CaseRepository struct {
	provider *pfirestore.Provider
}

type caseDocument struct {
	ClientID      string         `firestore:"client_id"`
	ServiceName   string         `firestore:"service_name"`
	AccessGranted bool           `firestore:"access_granted"`
	FormData      map[string]any `firestore:"form_data"`
	CurrentStep   int            `firestore:"current_step"`
	CreatedAt     time.Time      `firestore:"created_at"`
	UpdatedAt     time.Time      `firestore:"updated_at"`
}

func (d caseDocument) toDomain(id string) domain.Case {
	return domain.Case{
		ID:            id,
		ClientID:      d.ClientID,
		ServiceName:   d.ServiceName,
		AccessGranted: d.AccessGranted,
		FormData:      d.FormData,
		CurrentStep:   d.CurrentStep,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func (r *CaseRepository) FindByID(ctx context.Context, caseID string) (domain.Case, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Case{}, err
	}
	snap, err := client.Collection(casesCollection).Doc(caseID).Get(ctx)
	if err != nil {
		return domain.Case{}, pfirestore.WrapError("cases.get", err)
	}
	var doc caseDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Case{}, pfirestore.WrapError("cases.decode", err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// GrantAccess sets access_granted; Update fails with NotFound when the case is missing.
func (r *CaseRepository) GrantAccess(ctx context.Context, caseID string, at time.Time) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	_, err = client.Collection(casesCollection).Doc(caseID).Update(ctx, []firestore.Update{
		{Path: "access_granted", Value: true},
		{Path: "updated_at", Value: at.UTC()},
	})
	return pfirestore.WrapError("cases.grant_access", err)
}
