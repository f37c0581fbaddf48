package firestore

import (
	"context"

	domain "github.com/waypoint-immigration/portal/internal/domain"
	pfirestore "github.com/waypoint-immigration/portal/internal/platform/firestore"
)

// ProfileRepository reads the profiles collection.
type ProfileRepository struct {
	provider *pfirestore.Provider
}

type profileDocument struct {
	FullName string `firestore:"full_name"`
	Email    string `firestore:"email"`
	Role     string `firestore:"role"`
	Locale   string `firestore:"locale"`
}

func (d profileDocument) toDomain(id string) domain.Profile {
	return domain.Profile{ID: id, FullName: d.FullName, Email: d.Email, Role: d.Role, Locale: d.Locale}
}

func (r *ProfileRepository) FindByID(ctx context.Context, profileID string) (domain.Profile, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Profile{}, err
	}
	snap, err := client.Collection(profilesCollection).Doc(profileID).Get(ctx)
	if err != nil {
		return domain.Profile{}, pfirestore.WrapError("profiles.get", err)
	}
	var doc profileDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Profile{}, pfirestore.WrapError("profiles.decode", err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

func (r *ProfileRepository) FindByRole(ctx context.Context, role string) ([]domain.Profile, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	snaps, err := client.Collection(profilesCollection).Where("role", "==", role).Documents(ctx).GetAll()
	if err != nil {
		return nil, pfirestore.WrapError("profiles.find_by_role", err)
	}
	profiles := make([]domain.Profile, 0, len(snaps))
	for _, snap := range snaps {
		var doc profileDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, pfirestore.WrapError("profiles.decode", err)
		}
		profiles = append(profiles, doc.toDomain(snap.Ref.ID))
	}
	return profiles, nil
}
