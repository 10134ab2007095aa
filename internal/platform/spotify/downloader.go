package spotify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/phrazzld/crate-api/internal/config"
	"github.com/phrazzld/crate-api/internal/domain"
	"github.com/phrazzld/crate-api/internal/fetcher"
)

// audioExt is the container the provider serves audio in.
const audioExt = ".ogg"

// Downloader implements the fetcher.Fetcher interface using the music
// catalog provider's web API, writing retrieved audio into the local
// library under artist/album directories.
type Downloader struct {
	logger      *slog.Logger
	client      *client
	libraryPath string
}

// NewDownloader creates a Downloader from the provider configuration.
// The library directory is created if it does not exist.
func NewDownloader(logger *slog.Logger, cfg config.ProviderConfig) (*Downloader, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("provider credentials cannot be empty")
	}
	if cfg.LibraryPath == "" {
		return nil, errors.New("library path cannot be empty")
	}
	if err := os.MkdirAll(cfg.LibraryPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create library directory: %w", err)
	}

	return &Downloader{
		logger:      logger.With("component", "spotify_downloader"),
		client:      newClient(nil, cfg.ClientID, cfg.ClientSecret, cfg.BaseURL, cfg.TokenURL),
		libraryPath: cfg.LibraryPath,
	}, nil
}

// NewDownloaderWithHTTPClient is NewDownloader with an explicit HTTP
// client, used by tests to point at a local server.
func NewDownloaderWithHTTPClient(
	logger *slog.Logger,
	cfg config.ProviderConfig,
	httpClient *http.Client,
) (*Downloader, error) {
	d, err := NewDownloader(logger, cfg)
	if err != nil {
		return nil, err
	}
	d.client = newClient(httpClient, cfg.ClientID, cfg.ClientSecret, cfg.BaseURL, cfg.TokenURL)
	return d, nil
}

// Fetch resolves the payload's entity reference to a track list,
// downloads the audio, and reports item-level progress as it goes.
func (d *Downloader) Fetch(
	ctx context.Context,
	payload domain.DownloadPayload,
	report fetcher.ProgressFunc,
) (*domain.DownloadResult, error) {
	switch payload.TaskType {
	case domain.TaskTypeTrack:
		return d.fetchTrack(ctx, payload, report)
	case domain.TaskTypeAlbum:
		return d.fetchAlbum(ctx, payload, report)
	case domain.TaskTypeArtist:
		return d.fetchArtist(ctx, payload, report)
	default:
		return nil, fetcher.Permanent("unknown task type",
			fmt.Errorf("task type %q", payload.TaskType))
	}
}

func (d *Downloader) fetchTrack(
	ctx context.Context,
	payload domain.DownloadPayload,
	report fetcher.ProgressFunc,
) (*domain.DownloadResult, error) {
	emit(report, domain.Progress{Total: 1})

	t, err := d.client.getTrack(ctx, payload.EntityID)
	if err != nil {
		return nil, err
	}

	rel, err := d.downloadTrack(ctx, *t)
	if err != nil {
		return nil, err
	}

	emit(report, domain.Progress{Completed: 1, Total: 1})
	return &domain.DownloadResult{
		ArtifactPath: d.libraryPath,
		Files:        []string{rel},
		Completed:    1,
		Total:        1,
	}, nil
}

func (d *Downloader) fetchAlbum(
	ctx context.Context,
	payload domain.DownloadPayload,
	report fetcher.ProgressFunc,
) (*domain.DownloadResult, error) {
	alb, err := d.client.getAlbum(ctx, payload.EntityID)
	if err != nil {
		return nil, err
	}

	tracks, err := d.client.listAlbumTracks(ctx, payload.EntityID)
	if err != nil {
		return nil, err
	}

	if filter := payload.Options.FilterArtistID; filter != "" {
		tracks = filterByArtist(tracks, filter)
	}
	// Album listings omit the album object on each track.
	for i := range tracks {
		tracks[i].Album = *alb
	}

	return d.downloadTracks(ctx, tracks, report)
}

func (d *Downloader) fetchArtist(
	ctx context.Context,
	payload domain.DownloadPayload,
	report fetcher.ProgressFunc,
) (*domain.DownloadResult, error) {
	opts := payload.Options

	groups := []string{"album"}
	if opts.IncludeSingles {
		groups = append(groups, "single")
	}
	if opts.IncludeAppearsOn {
		groups = append(groups, "appears_on")
	}

	albums, err := d.client.listArtistAlbums(ctx, payload.EntityID, groups)
	if err != nil {
		return nil, err
	}

	var tracks []track
	for _, alb := range albums {
		if opts.MinTracks > 0 && alb.TotalTracks < opts.MinTracks {
			d.logger.Debug("skipping short release",
				"album_id", alb.ID, "album_name", alb.Name,
				"total_tracks", alb.TotalTracks)
			continue
		}

		albTracks, err := d.client.listAlbumTracks(ctx, alb.ID)
		if err != nil {
			return nil, err
		}

		ref := albumRef{ID: alb.ID, Name: alb.Name, Artists: alb.Artists}
		for i := range albTracks {
			albTracks[i].Album = ref
		}
		// On compilations and appears-on releases only the artist's
		// own tracks are wanted.
		if alb.AlbumGroup == "appears_on" {
			albTracks = filterByArtist(albTracks, payload.EntityID)
		}
		tracks = append(tracks, albTracks...)
	}

	return d.downloadTracks(ctx, tracks, report)
}

// downloadTracks retrieves each track in order, reporting progress
// after every item. Individual permanent failures are tolerated and
// counted; the batch fails only when nothing at all succeeded or the
// context was cancelled.
func (d *Downloader) downloadTracks(
	ctx context.Context,
	tracks []track,
	report fetcher.ProgressFunc,
) (*domain.DownloadResult, error) {
	result := &domain.DownloadResult{
		ArtifactPath: d.libraryPath,
		Total:        len(tracks),
	}
	emit(report, domain.Progress{Total: result.Total})

	if len(tracks) == 0 {
		return nil, fetcher.Permanent("no tracks matched",
			errors.New("entity resolved to an empty track list"))
	}

	var lastErr error
	for _, t := range tracks {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		rel, err := d.downloadTrack(ctx, t)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			d.logger.Warn("track download failed",
				"track_id", t.ID, "track_name", t.Name, "error", err)
			result.Failed++
			lastErr = err
		} else {
			result.Completed++
			result.Files = append(result.Files, rel)
		}

		emit(report, domain.Progress{
			Completed: result.Completed,
			Failed:    result.Failed,
			Total:     result.Total,
		})
	}

	if result.Completed == 0 {
		return nil, fetcher.Transient("all tracks failed", lastErr)
	}
	return result, nil
}

// downloadTrack writes one track's audio to its library location and
// returns the path relative to the library root. An existing file is
// kept as is, which makes interrupted batch downloads resumable.
func (d *Downloader) downloadTrack(ctx context.Context, t track) (string, error) {
	rel := trackPath(t)
	dest := filepath.Join(d.libraryPath, rel)

	if _, err := os.Stat(dest); err == nil {
		d.logger.Debug("track already in library", "path", rel)
		return rel, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fetcher.Permanent("create library directory", err)
	}

	// Download to a temp name and rename so a partial file never
	// occupies the final path.
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".crate-*")
	if err != nil {
		return "", fetcher.Permanent("create temp file", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := d.client.downloadAudio(ctx, t.ID, tmp); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fetcher.Transient("flush audio file", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fetcher.Permanent("move audio file into library", err)
	}

	d.logger.Debug("track downloaded", "path", rel)
	return rel, nil
}

// trackPath builds the library-relative path for a track:
// Artist/Album/NN - Title.ogg.
func trackPath(t track) string {
	artistName := "Unknown Artist"
	if len(t.Album.Artists) > 0 {
		artistName = t.Album.Artists[0].Name
	} else if len(t.Artists) > 0 {
		artistName = t.Artists[0].Name
	}

	albumName := t.Album.Name
	if albumName == "" {
		albumName = "Unknown Album"
	}

	file := fmt.Sprintf("%02d - %s%s", t.TrackNumber, sanitize(t.Name), audioExt)
	return filepath.Join(sanitize(artistName), sanitize(albumName), file)
}

// sanitize strips path separators and other characters that are
// unsafe in file names.
func sanitize(name string) string {
	replacer := strings.NewReplacer(
		"/", "-", "\\", "-", ":", "-",
		"*", "", "?", "", "\"", "'",
		"<", "(", ">", ")", "|", "-",
		"\x00", "",
	)
	cleaned := strings.TrimSpace(replacer.Replace(name))
	if cleaned == "" {
		return "untitled"
	}
	return cleaned
}

func filterByArtist(tracks []track, artistID string) []track {
	filtered := tracks[:0]
	for _, t := range tracks {
		for _, a := range t.Artists {
			if a.ID == artistID {
				filtered = append(filtered, t)
				break
			}
		}
	}
	return filtered
}

func emit(report fetcher.ProgressFunc, p domain.Progress) {
	if report != nil {
		report(p)
	}
}
