package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/pokjoy/qfeng5/internal/config"
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".webm": true,
	".ogg":  true,
	".mov":  true,
	".avi":  true,
}

// IsVideo reports whether name has a playable video extension.
func IsVideo(name string) bool {
	return videoExtensions[strings.ToLower(path.Ext(name))]
}

// MediaLister lists the public URLs of ad clips.
type MediaLister interface {
	List(ctx context.Context) ([]string, error)
}

// AdAssets is the clip selection handed to the ad player.
type AdAssets struct {
	Available bool     `json:"available"`
	Videos    []string `json:"videos"`
	Total     int      `json:"total"`
}

// MediaService picks ad clips for the ad unlock path.
type MediaService struct {
	lister   MediaLister
	maxClips int
	shuffle  func(n int, swap func(i, j int))
}

// NewMediaService creates a new MediaService.
func NewMediaService(lister MediaLister, maxClips int) *MediaService {
	if maxClips <= 0 {
		maxClips = 2
	}
	return &MediaService{lister: lister, maxClips: maxClips, shuffle: rand.Shuffle}
}

// AdAssets returns up to maxClips clips in random order. Listing failures
// degrade to an unavailable result rather than an error.
func (s *MediaService) AdAssets(ctx context.Context) AdAssets {
	if s.lister == nil {
		return AdAssets{Videos: []string{}}
	}
	videos, err := s.lister.List(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list ad videos")
		return AdAssets{Videos: []string{}}
	}
	if len(videos) == 0 {
		return AdAssets{Videos: []string{}}
	}

	picked := append([]string(nil), videos...)
	s.shuffle(len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })
	if len(picked) > s.maxClips {
		picked = picked[:s.maxClips]
	}
	return AdAssets{Available: true, Videos: picked, Total: len(videos)}
}

// DirLister serves clips from a local directory.
type DirLister struct {
	Dir       string
	URLPrefix string
}

// List returns the clip URLs in name order.
func (l DirLister) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil, fmt.Errorf("read video dir: %w", err)
	}
	prefix := l.URLPrefix
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() || !IsVideo(e.Name()) {
			continue
		}
		out = append(out, prefix+e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// S3Lister serves clips from an S3 bucket prefix.
type S3Lister struct {
	client    s3.ListObjectsV2APIClient
	bucket    string
	region    string
	prefix    string
	urlPrefix string
}

// NewS3Lister creates an S3Lister from the default AWS credential chain.
func NewS3Lister(ctx context.Context, cfg config.MediaConfig) (*S3Lister, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3ListerWithClient(s3.NewFromConfig(awsCfg), cfg), nil
}

// NewS3ListerWithClient creates an S3Lister around an existing client.
// URLPrefix, when set, replaces the bucket URL in the returned links.
func NewS3ListerWithClient(client s3.ListObjectsV2APIClient, cfg config.MediaConfig) *S3Lister {
	l := &S3Lister{
		client: client,
		bucket: cfg.S3Bucket,
		region: cfg.S3Region,
		prefix: cfg.S3Prefix,
	}
	if strings.HasPrefix(cfg.URLPrefix, "http://") || strings.HasPrefix(cfg.URLPrefix, "https://") {
		l.urlPrefix = strings.TrimRight(cfg.URLPrefix, "/") + "/"
	}
	return l
}

// List returns the clip URLs in key order.
func (l *S3Lister) List(ctx context.Context) ([]string, error) {
	p := s3.NewListObjectsV2Paginator(l.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(l.bucket),
		Prefix: aws.String(l.prefix),
	})

	var out []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3 videos: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") || !IsVideo(key) {
				continue
			}
			out = append(out, l.objectURL(key))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (l *S3Lister) objectURL(key string) string {
	if l.urlPrefix != "" {
		return l.urlPrefix + path.Base(key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", l.bucket, l.region, key)
}
