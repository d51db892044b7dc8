package service

import (
	"context"
	"encoding/base64"
	"time"

	"chathub/internal/adapter"
	"chathub/internal/constants"
	"chathub/internal/database"
	"chathub/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// ResolveOptions control contact resolution behavior per call site.
// Read-receipt and reaction lookups never create; message ingestion does.
type ResolveOptions struct {
	UpdateProfilePicture bool
	CreateIfMissing      bool
}

// ContactResolver finds or creates the two-tier contact pair behind an
// external identifier.
type ContactResolver struct {
	store  Store
	logger *logrus.Logger
	pics   *resty.Client
}

func NewContactResolver(store Store, logger *logrus.Logger) *ContactResolver {
	return &ContactResolver{
		store:  store,
		logger: logger,
		pics:   resty.New().SetTimeout(time.Duration(constants.DefaultProfilePicFetchSec) * time.Second),
	}
}

// Resolve returns the channel-contact for the identifier, creating the
// parent+channel pair when allowed. The second return reports whether the
// pair was created by this call. A nil contact with nil error means not
// found with creation disabled.
func (r *ContactResolver) Resolve(
	ctx context.Context,
	connector *models.Connector,
	provider adapter.Adapter,
	payload []byte,
	identifier, nameHint string,
	opts ResolveOptions,
) (*models.Contact, bool, error) {
	channel, err := r.store.GetChannelContact(ctx, connector.ContactField, identifier, connector.ContactName)
	if err != nil {
		return nil, false, err
	}

	if channel == nil && !opts.CreateIfMissing {
		return nil, false, nil
	}

	isNew := false
	if channel == nil {
		name := nameHint
		if name == "" {
			name = identifier
		}
		parent := &models.Contact{
			Name:            name,
			IdentifierField: connector.ContactField,
			Identifier:      identifier,
		}
		channel = &models.Contact{
			Name:            connector.ContactName,
			IdentifierField: connector.ContactField,
			Identifier:      identifier,
		}
		err = r.store.CreateContactPair(ctx, parent, channel)
		switch {
		case err == nil:
			isNew = true
			r.logger.WithFields(logrus.Fields{
				"connector":  connector.UUID,
				"identifier": identifier,
			}).Info("Created contact pair")
		case database.IsUniqueViolation(err):
			// A concurrent webhook won the create race; take its row.
			channel, err = r.store.GetChannelContact(ctx, connector.ContactField, identifier, connector.ContactName)
			if err != nil {
				return nil, false, err
			}
			if channel == nil {
				return nil, false, err
			}
		default:
			return nil, false, err
		}
	}

	if opts.UpdateProfilePicture && (channel.ImageSmall == "" || connector.AlwaysUpdatePicture) {
		r.refreshProfilePicture(ctx, provider, payload, channel)
	}

	return channel, isNew, nil
}

// refreshProfilePicture fetches the current picture and writes both image
// buckets on the channel-contact and its parent. Failures are logged and
// swallowed; a missing picture never blocks ingestion.
func (r *ContactResolver) refreshProfilePicture(ctx context.Context, provider adapter.Adapter, payload []byte, channel *models.Contact) {
	image, err := provider.GetProfilePicture(ctx, payload)
	if err != nil || image == "" {
		return
	}
	ids := []int64{channel.ID}
	if channel.ParentID != nil {
		ids = append(ids, *channel.ParentID)
	}
	for _, id := range ids {
		if err := r.store.UpdateContactImages(ctx, id, image, image); err != nil {
			r.logger.WithError(err).WithField("contact", id).Warn("Failed to update profile picture")
		}
	}
	channel.ImageLarge = image
	channel.ImageSmall = image
}

// ApplyPictureURL downloads a profile picture by URL and stores it on the
// channel-contact and its parent. Bulk contact sync carries a URL instead
// of image content; failures are logged and swallowed like the inline path.
func (r *ContactResolver) ApplyPictureURL(ctx context.Context, channel *models.Contact, url string) {
	resp, err := r.pics.R().SetContext(ctx).Get(url)
	if err != nil || resp.IsError() {
		r.logger.WithField("url", url).Warn("Failed to download profile picture")
		return
	}
	image := base64.StdEncoding.EncodeToString(resp.Body())
	ids := []int64{channel.ID}
	if channel.ParentID != nil {
		ids = append(ids, *channel.ParentID)
	}
	for _, id := range ids {
		if err := r.store.UpdateContactImages(ctx, id, image, image); err != nil {
			r.logger.WithError(err).WithField("contact", id).Warn("Failed to update profile picture")
		}
	}
	channel.ImageLarge = image
	channel.ImageSmall = image
}
