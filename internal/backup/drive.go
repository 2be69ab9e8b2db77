package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"MarketWarehouse/internal/config"
)

// DriveRemote stores backups in one Google Drive folder using a service account.
type DriveRemote struct {
	svc      *drive.Service
	folderID string
}

// NewDriveRemote builds a Drive client from the inline service account JSON
// or, failing that, the credentials file.
func NewDriveRemote(ctx context.Context, cfg config.BackupConfig, extra ...option.ClientOption) (*DriveRemote, error) {
	opts := []option.ClientOption{option.WithScopes(drive.DriveScope)}
	switch {
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, extra...)

	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &DriveRemote{svc: svc, folderID: cfg.FolderID}, nil
}

func (r *DriveRemote) Name() string { return "drive" }

func (r *DriveRemote) Find(ctx context.Context, name string) (string, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", escapeQuery(name), escapeQuery(r.folderID))
	list, err := r.svc.Files.List().
		Q(q).
		Fields("files(id, name)").
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("drive list: %w", err)
	}
	if len(list.Files) == 0 {
		return "", ErrNotFound
	}
	return list.Files[0].Id, nil
}

// Upload updates the existing object in place, or creates it in the folder.
func (r *DriveRemote) Upload(ctx context.Context, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	id, err := r.Find(ctx, name)
	switch {
	case err == nil:
		_, err = r.svc.Files.Update(id, &drive.File{}).
			Media(f).
			SupportsAllDrives(true).
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("drive update %s: %w", name, err)
		}
	case errors.Is(err, ErrNotFound):
		_, err = r.svc.Files.Create(&drive.File{Name: name, Parents: []string{r.folderID}}).
			Media(f).
			SupportsAllDrives(true).
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("drive create %s: %w", name, err)
		}
	default:
		return err
	}
	return nil
}

func (r *DriveRemote) Download(ctx context.Context, id, dest string) error {
	resp, err := r.svc.Files.Get(id).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return fmt.Errorf("drive download %s: %w", id, err)
	}
	defer resp.Body.Close()
	return writeFile(ctx, dest, resp.Body)
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
