package app

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"pinboard/api/internal/auth"
	"pinboard/api/internal/store"
	"pinboard/api/internal/util"
)

func (s *Service) CreateFolder(ctx context.Context, requester auth.Identity, name string) (_ store.Folder, err error) {
	ctx, span := s.startSpan(ctx, "folder.create")
	defer func() { err = s.finish(span, "folder.create", err) }()

	if err := requireUser(requester); err != nil {
		return store.Folder{}, err
	}
	name = cleanName(name)
	if name == "" {
		return store.Folder{}, validation("name is required")
	}
	if _, err := s.store.EnsureUser(ctx, requester.UserID, requester.Name); err != nil {
		return store.Folder{}, err
	}
	now := s.now()
	folder := store.Folder{
		ID:        util.NewID("fld"),
		OwnerID:   requester.UserID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertFolder(ctx, folder); err != nil {
		return store.Folder{}, err
	}
	return folder, nil
}

func (s *Service) ListFolders(ctx context.Context, requester auth.Identity) (_ []store.Folder, err error) {
	ctx, span := s.startSpan(ctx, "folder.list")
	defer func() { err = s.finish(span, "folder.list", err) }()

	if err := requireUser(requester); err != nil {
		return nil, err
	}
	return s.store.ListFolders(ctx, requester.UserID)
}

func (s *Service) RenameFolder(ctx context.Context, requester auth.Identity, folderID, name string) (_ store.Folder, err error) {
	ctx, span := s.startSpan(ctx, "folder.rename", attribute.String("folder.id", folderID))
	defer func() { err = s.finish(span, "folder.rename", err) }()

	name = cleanName(name)
	if name == "" {
		return store.Folder{}, validation("name is required")
	}
	folder, err := s.ownFolder(ctx, requester, folderID)
	if err != nil {
		return store.Folder{}, err
	}
	if err := s.store.RenameFolder(ctx, folderID, name); err != nil {
		return store.Folder{}, err
	}
	folder.Name = name
	folder.UpdatedAt = s.now()
	return folder, nil
}

// DeleteFolder removes the folder only. Its boards stay, detached.
func (s *Service) DeleteFolder(ctx context.Context, requester auth.Identity, folderID string) (err error) {
	ctx, span := s.startSpan(ctx, "folder.delete", attribute.String("folder.id", folderID))
	defer func() { err = s.finish(span, "folder.delete", err) }()

	if _, err := s.ownFolder(ctx, requester, folderID); err != nil {
		return err
	}
	return s.store.DeleteFolder(ctx, folderID)
}

func (s *Service) checkFolder(ctx context.Context, requester auth.Identity, folderID string) error {
	_, err := s.ownFolder(ctx, requester, folderID)
	return err
}

// ownFolder answers NOT_FOUND for folders of other users.
func (s *Service) ownFolder(ctx context.Context, requester auth.Identity, folderID string) (store.Folder, error) {
	if err := requireUser(requester); err != nil {
		return store.Folder{}, err
	}
	folder, err := s.store.GetFolder(ctx, folderID)
	if err != nil {
		return store.Folder{}, err
	}
	if folder.OwnerID != requester.UserID {
		return store.Folder{}, notFound()
	}
	return folder, nil
}
