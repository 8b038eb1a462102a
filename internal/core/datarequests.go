package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// DataRequestStatusPending is the status of a newly submitted request.
const DataRequestStatusPending = "pending"

// DataRequest is a stored data request document.
type DataRequest struct {
	FileName string          `json:"file_name"`
	Time     string          `json:"time"`
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Data     json.RawMessage `json:"data"`
	Status   string          `json:"status"`
}

// DataRequestReceipt acknowledges a submission.
type DataRequestReceipt struct {
	FileName string `json:"filename"`
	Message  string `json:"message"`
}

type requestorEnvelope struct {
	Requestor struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"requestor"`
}

// SubmitDataRequest stores an unauthenticated data request and notifies the
// data-request admins in the background.
func (s *Service) SubmitDataRequest(ctx context.Context, payload json.RawMessage) (DataRequestReceipt, error) {
	var out DataRequestReceipt
	err := s.run(ctx, "submit_data_request", "", true, func(ctx context.Context) (string, error) {
		var env requestorEnvelope
		if len(payload) == 0 || json.Unmarshal(payload, &env) != nil {
			return "", ErrValidation{Reason: "invalid request body"}
		}
		name := strings.TrimSpace(env.Requestor.Name)
		if name == "" {
			return "", ErrValidation{Field: "requestor.name", Reason: "requestor name is required"}
		}
		now := s.clock.Now().UTC()
		fileName := fmt.Sprintf("%s_%s_%s.json", sanitizeObjectName(name), now.Format("20060102_150405"), uuid.NewString()[:8])
		doc := DataRequest{
			FileName: fileName,
			Time:     now.Format("2006-01-02T15:04:05Z07:00"),
			Name:     name,
			Email:    strings.TrimSpace(env.Requestor.Email),
			Data:     payload,
			Status:   DataRequestStatusPending,
		}
		body, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode data request: %w", err)
		}
		if _, err := s.objects.PutObject(ctx, s.requestPrefix+fileName, body, "application/json"); err != nil {
			return "", fmt.Errorf("store data request: %w", err)
		}
		s.notifyDataRequest(ctx, name, fileName)
		out = DataRequestReceipt{FileName: fileName, Message: "Data request submitted successfully"}
		return fileName, nil
	})
	return out, err
}

func (s *Service) notifyDataRequest(ctx context.Context, requestor, fileName string) {
	recipients, err := s.loadAdmins(ctx, DataRequestAdmins)
	if err != nil {
		s.logger.Warn("data request admins unavailable", "error", err)
	}
	if len(recipients) == 0 {
		recipients = s.notifyRecipients
	}
	if len(recipients) == 0 {
		s.logger.Warn("no recipients for data request notification", "file", fileName)
		return
	}
	for _, to := range recipients {
		msg := Email{
			To:      to,
			Subject: fmt.Sprintf("[NPNL Enigma] New Data Request from %s", requestor),
			Body: "Hello,\n\n" +
				fmt.Sprintf("%s has submitted a new data request.\n", requestor) +
				fmt.Sprintf("Please refer to '%s' in the data request store to view the request details.\n", fileName),
		}
		if !s.notifier.Notify(ctx, msg) {
			s.logger.Warn("data request notification dropped", "to", to, "file", fileName)
		}
	}
}

func (s *Service) authorizeDataRequests(ctx context.Context, p Principal) error {
	if err := requirePrincipal(p); err != nil {
		return err
	}
	admin, err := s.isAdmin(ctx, p)
	if err != nil {
		return err
	}
	if admin {
		return nil
	}
	dataAdmin, err := s.inAdminList(ctx, DataRequestAdmins, p)
	if err != nil {
		return err
	}
	if !dataAdmin {
		return ErrForbidden{Action: "read data requests"}
	}
	return nil
}

// ListDataRequests returns every stored request, newest first.
func (s *Service) ListDataRequests(ctx context.Context, p Principal) ([]DataRequest, error) {
	var out []DataRequest
	err := s.run(ctx, "list_data_requests", p.Key(), false, func(ctx context.Context) (string, error) {
		if err := s.authorizeDataRequests(ctx, p); err != nil {
			return "", err
		}
		infos, err := s.objects.ListObjects(ctx, s.requestPrefix)
		if err != nil {
			return "", fmt.Errorf("list data requests: %w", err)
		}
		sort.SliceStable(infos, func(i, j int) bool {
			return infos[i].LastModified.After(infos[j].LastModified)
		})
		out = make([]DataRequest, 0, len(infos))
		for _, info := range infos {
			if !strings.HasSuffix(info.Key, ".json") {
				continue
			}
			doc, err := s.readDataRequest(ctx, info.Key)
			if err != nil {
				if Classify(err) == KindInternal {
					return "", err
				}
				s.logger.Warn("skipping unreadable data request", "key", info.Key, "error", err)
				continue
			}
			out = append(out, doc)
		}
		return "", nil
	})
	return out, err
}

// GetDataRequest returns one stored request by file name.
func (s *Service) GetDataRequest(ctx context.Context, p Principal, fileName string) (DataRequest, error) {
	var out DataRequest
	err := s.run(ctx, "get_data_request", p.Key(), false, func(ctx context.Context) (string, error) {
		fileName = strings.TrimSpace(fileName)
		if fileName == "" || strings.ContainsAny(fileName, `/\`) || strings.Contains(fileName, "..") {
			return "", ErrValidation{Field: "filename", Reason: "invalid file name"}
		}
		if err := s.authorizeDataRequests(ctx, p); err != nil {
			return "", err
		}
		doc, err := s.readDataRequest(ctx, s.requestPrefix+fileName)
		if err != nil {
			return "", err
		}
		out = doc
		return fileName, nil
	})
	return out, err
}

func (s *Service) readDataRequest(ctx context.Context, key string) (DataRequest, error) {
	body, err := s.objects.GetObject(ctx, key)
	if err != nil {
		if IsNotFound(err) {
			return DataRequest{}, ErrNotFound{Entity: EntityDataRequest, Key: strings.TrimPrefix(key, s.requestPrefix)}
		}
		return DataRequest{}, fmt.Errorf("read data request %s: %w", key, err)
	}
	var doc DataRequest
	if err := json.Unmarshal(body, &doc); err != nil {
		return DataRequest{}, ErrValidation{Field: "data request", Reason: fmt.Sprintf("malformed document %s", key)}
	}
	if doc.FileName == "" {
		doc.FileName = strings.TrimPrefix(key, s.requestPrefix)
	}
	return doc, nil
}
