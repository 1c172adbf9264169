package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dmitrijs2005/gophstore/internal/chunking"
	"github.com/dmitrijs2005/gophstore/internal/common"
	"github.com/dmitrijs2005/gophstore/internal/download"
	"github.com/dmitrijs2005/gophstore/internal/objstore"
	"github.com/dmitrijs2005/gophstore/internal/restore"
	"github.com/dmitrijs2005/gophstore/internal/upload"
)

// ErrUsage is returned for unknown commands and wrong argument counts.
var ErrUsage = errors.New("usage")

const usage = `commands:
  upload <file> <key>
  download <key> <file>
  download-folder <prefix> <dir>
  status <key>
  restore <key> [tier]
  restore-folder <prefix> [tier]
  tiers
  pending`

type command struct {
	min, max int
	run      func(ctx context.Context, args []string) error
}

func (a *App) commands() map[string]command {
	return map[string]command{
		"upload":          {2, 2, a.upload},
		"download":        {2, 2, a.downloadObject},
		"download-folder": {2, 2, a.downloadFolder},
		"status":          {1, 1, a.status},
		"restore":         {1, 2, a.restoreObject},
		"restore-folder":  {1, 2, a.restoreFolder},
		"tiers":           {0, 0, a.tiers},
		"pending":         {0, 0, a.pending},
	}
}

func (a *App) dispatch(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "help" {
		a.printf("%s\n", usage)
		if len(args) == 0 {
			return ErrUsage
		}
		return nil
	}
	cmd, ok := a.commands()[args[0]]
	if !ok {
		return fmt.Errorf("%w: unknown command %q\n%s", ErrUsage, args[0], usage)
	}
	rest := args[1:]
	if len(rest) < cmd.min || len(rest) > cmd.max {
		return fmt.Errorf("%w: wrong number of arguments for %s\n%s", ErrUsage, args[0], usage)
	}

	stop := a.follow(ctx)
	defer stop()
	return cmd.run(ctx, rest)
}

func (a *App) upload(ctx context.Context, args []string) error {
	src, f, err := upload.FileSource(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	if chunking.IsLargeFile(src.Size) {
		a.printf("%s is %s; this upload may take a while\n", src.Name, humanize.IBytes(uint64(src.Size)))
	}

	res, err := a.uploads.Upload(ctx, src, args[1])
	if errors.Is(err, common.ErrPaused) {
		a.printf("upload of %s paused; run the same command again to resume\n", args[1])
		return nil
	}
	if err != nil {
		return err
	}
	a.printf("uploaded %s to %s (%s)\n", args[0], res.Key, res.Strategy)
	return nil
}

func (a *App) downloadObject(ctx context.Context, args []string) error {
	key, err := objstore.NormalizeKey(args[0])
	if err != nil {
		return err
	}
	f, err := os.OpenFile(args[1], os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := a.dropOrphanedCheckpoint(ctx, key, f); err != nil {
		return err
	}

	res, err := a.download.DownloadObject(ctx, key, 0, f)
	if errors.Is(err, common.ErrPaused) {
		a.printf("download of %s paused; run the same command again to resume\n", key)
		return nil
	}
	if errors.Is(err, common.ErrArchivedNotReady) {
		return fmt.Errorf("%w; request it with: restore %s", err, key)
	}
	if err != nil {
		return err
	}
	if err := f.Truncate(res.Bytes); err != nil {
		return err
	}
	a.printf("downloaded %s to %s (%s)\n", key, args[1], humanize.IBytes(uint64(res.Bytes)))
	return nil
}

// dropOrphanedCheckpoint forgets a saved download offset when the local file
// no longer holds the bytes before it.
func (a *App) dropOrphanedCheckpoint(ctx context.Context, key string, f *os.File) error {
	st, err := a.state.GetSavedDownloadState(ctx, key)
	if err != nil || st == nil {
		return err
	}
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if fi.Size() < st.Offset {
		a.logger.Info(ctx, "local file shorter than checkpoint, starting over", "key", key, "offset", st.Offset, "file_size", fi.Size())
		return a.state.ClearDownloadState(ctx, key)
	}
	return nil
}

func (a *App) downloadFolder(ctx context.Context, args []string) error {
	res, err := a.download.DownloadFolder(ctx, args[0], download.DirSaver{Dir: args[1]})
	if err != nil {
		return err
	}
	a.printf("saved %s to %s: %d included, %d skipped, %d failed\n",
		res.ArchiveName, args[1], len(res.Included), len(res.Skipped), len(res.Failed))
	for _, k := range res.Skipped {
		a.printf("  skipped (archived) %s\n", k)
	}
	for _, k := range res.Failed {
		a.printf("  failed %s\n", k)
	}
	return nil
}

func (a *App) status(ctx context.Context, args []string) error {
	st, err := a.restores.CheckStatus(ctx, args[0])
	if err != nil {
		return err
	}
	a.printf("key:      %s\n", st.Key)
	a.printf("size:     %s\n", humanize.IBytes(uint64(st.Size)))
	a.printf("class:    %s\n", st.StorageClass)
	a.printf("archived: %t\n", st.IsArchived)
	switch {
	case st.Ongoing():
		a.printf("restore:  in progress\n")
	case st.Ready():
		a.printf("restore:  available")
		if st.Restore.Expiry != nil {
			a.printf(" until %s", st.Restore.Expiry.Format(time.RFC1123))
		}
		a.printf("\n")
	case st.IsArchived:
		a.printf("restore:  not requested\n")
	}
	a.printf("readable: %t\n", st.Readable())
	return nil
}

func (a *App) tierArg(args []string) (objstore.Tier, error) {
	name := a.config.RestoreTier
	if len(args) > 1 {
		name = args[1]
	}
	return restore.ParseTier(name)
}

func window(t objstore.Tier) string {
	ti, ok := restore.Info(t)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s-%s", ti.MinWindow, ti.MaxWindow)
}

func (a *App) restoreObject(ctx context.Context, args []string) error {
	tier, err := a.tierArg(args)
	if err != nil {
		return err
	}
	res, err := a.restores.RestoreObject(ctx, args[0], tier)
	if err != nil {
		return err
	}
	switch res.Status {
	case restore.StatusAvailable:
		a.printf("%s is readable now\n", res.Key)
	case restore.StatusInProgress:
		a.printf("restore of %s is already in progress\n", res.Key)
	case restore.StatusRequested:
		a.printf("requested %s restore of %s, typically ready in %s\n", res.Tier, res.Key, window(res.Tier))
	}
	return nil
}

func (a *App) restoreFolder(ctx context.Context, args []string) error {
	tier, err := a.tierArg(args)
	if err != nil {
		return err
	}
	res, err := a.restores.RestoreFolderBulk(ctx, args[0], tier)
	if err != nil {
		return err
	}
	a.printf("%s restore: %d to restore, %d requested, %d already in progress, %d failed\n",
		tier, res.TotalFiles, res.RestoredFiles, res.InProgress, res.FailedFiles)
	for _, k := range res.Failed {
		a.printf("  failed %s\n", k)
	}
	return nil
}

func (a *App) tiers(context.Context, []string) error {
	for _, ti := range restore.Tiers() {
		a.printf("%-10s %s cost %s\n", ti.Tier, window(ti.Tier), strings.Repeat("$", ti.CostRank))
	}
	return nil
}

func (a *App) pending(ctx context.Context, _ []string) error {
	ups, err := a.state.ListUploads(ctx)
	if err != nil {
		return err
	}
	if len(ups) == 0 {
		a.printf("no pending uploads\n")
		return nil
	}
	for _, u := range ups {
		a.printf("%s  %s  %s  since %s\n", u.Key, u.Name, humanize.IBytes(uint64(u.Size)), humanize.Time(u.Timestamp))
	}
	return nil
}
