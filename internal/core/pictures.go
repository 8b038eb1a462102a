package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var pictureExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
	"image/bmp":  "bmp",
}

// UploadProfilePicture stores a base64 image, optionally prefixed with a
// data URL header, and returns the stored object. userIndex names the file;
// when empty the principal's email is used.
func (s *Service) UploadProfilePicture(ctx context.Context, p Principal, image, userIndex string) (ObjectInfo, error) {
	var out ObjectInfo
	err := s.run(ctx, "upload_profile_picture", p.Key(), true, func(ctx context.Context) (string, error) {
		if err := requirePrincipal(p); err != nil {
			return "", err
		}
		data, err := decodeImage(image)
		if err != nil {
			return "", err
		}
		contentType := http.DetectContentType(data)
		ext, ok := pictureExtensions[contentType]
		if !ok {
			return "", ErrValidation{Field: "image", Reason: "unsupported image type"}
		}
		name := sanitizeObjectName(strings.TrimSpace(userIndex))
		if name == "" {
			name = sanitizeObjectName(p.Key())
		}
		key := fmt.Sprintf("%s%s_%s.%s", s.picturePrefix, name, s.clock.Now().UTC().Format("20060102_150405"), ext)
		info, err := s.objects.PutObject(ctx, key, data, contentType)
		if err != nil {
			return "", fmt.Errorf("store profile picture: %w", err)
		}
		out = info
		return key, nil
	})
	return out, err
}

func decodeImage(image string) ([]byte, error) {
	image = strings.TrimSpace(image)
	if i := strings.Index(image, ","); i >= 0 {
		image = image[i+1:]
	}
	if image == "" {
		return nil, ErrValidation{Field: "image", Reason: "no image provided"}
	}
	data, err := base64.StdEncoding.DecodeString(image)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(image)
	}
	if err != nil || len(data) == 0 {
		return nil, ErrValidation{Field: "image", Reason: "invalid image data"}
	}
	return data, nil
}

// DeleteProfilePicture removes the picture stored at imageURL. Only objects
// under the profile picture prefix can be removed.
func (s *Service) DeleteProfilePicture(ctx context.Context, p Principal, imageURL string) error {
	return s.run(ctx, "delete_profile_picture", p.Key(), true, func(ctx context.Context) (string, error) {
		if err := requirePrincipal(p); err != nil {
			return "", err
		}
		key, err := s.pictureKey(imageURL)
		if err != nil {
			return "", err
		}
		found, err := s.objects.DeleteObject(ctx, key)
		if err != nil {
			return "", fmt.Errorf("delete profile picture: %w", err)
		}
		if !found {
			s.logger.Info("profile picture already absent", "key", key)
		}
		return key, nil
	})
}

// pictureKey extracts the object key from a picture URL.
func (s *Service) pictureKey(imageURL string) (string, error) {
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		return "", ErrValidation{Field: "image_url", Reason: "image URL is required"}
	}
	u, err := url.Parse(imageURL)
	if err != nil {
		return "", ErrValidation{Field: "image_url", Reason: "invalid image URL"}
	}
	for _, candidate := range []string{u.Path, u.Host + u.Path} {
		candidate = strings.TrimPrefix(candidate, "/")
		i := strings.Index(candidate, s.picturePrefix)
		if i < 0 {
			continue
		}
		key := candidate[i:]
		if key == s.picturePrefix || strings.Contains(key, "..") {
			break
		}
		return key, nil
	}
	return "", ErrValidation{Field: "image_url", Reason: "image URL does not reference a profile picture"}
}

// sanitizeObjectName keeps letters, digits, '-' and '_' and replaces
// everything else with '_'.
func sanitizeObjectName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
