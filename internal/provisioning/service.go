package provisioning

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/nerrad567/facility-review-core/internal/access"
	"github.com/nerrad567/facility-review-core/internal/facility"
	"github.com/nerrad567/facility-review-core/internal/infrastructure/logging"
)

// ErrUnparsableWindow is returned by Provision when a facility's effective
// window cannot be read. Batch callers skip the facility and carry on.
var ErrUnparsableWindow = errors.New("provisioning: facility window is unparsable")

// Encoder signs contractor claims.
type Encoder interface {
	Encode(access.Claims) (string, error)
}

// Catalog is the read access Export needs.
type Catalog interface {
	GetCustomer(ctx context.Context, id int64) (*facility.Customer, error)
	ListFacilities(ctx context.Context, customerID int64, ids []int64) ([]facility.Facility, error)
	CountDevices(ctx context.Context, facilityID int64) (int, error)
}

// Provisioned is the result of provisioning one facility.
type Provisioned struct {
	Token    string `json:"token"`
	URL      string `json:"url"`
	Artifact []byte `json:"-"`
}

// Service mints facility tokens and their QR artifacts.
type Service struct {
	codec    Encoder
	appURL   string
	renderer Renderer
	catalog  Catalog
	logger   *logging.Logger
}

// Config holds the Service's collaborators. Renderer defaults to PNGRenderer.
type Config struct {
	Codec    Encoder
	AppURL   string
	Renderer Renderer
	Catalog  Catalog
	Logger   *logging.Logger
}

// NewService creates a provisioning Service.
func NewService(cfg Config) *Service {
	s := &Service{
		codec:    cfg.Codec,
		appURL:   cfg.AppURL,
		renderer: cfg.Renderer,
		catalog:  cfg.Catalog,
		logger:   cfg.Logger,
	}
	if s.renderer == nil {
		s.renderer = PNGRenderer{}
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	return s
}

// Claims derives the token claims for f from its own effective window.
// The same facility and window always produce the same claims.
func Claims(f *facility.Facility) (access.Claims, error) {
	start, end, err := f.Window()
	if err != nil {
		return access.Claims{}, fmt.Errorf("%w: %w", ErrUnparsableWindow, err)
	}
	return access.Claims{
		FacilityID: f.ID,
		CustomerID: f.CustomerID,
		StartTime:  start.Unix(),
		Exp:        end.Unix(),
	}, nil
}

// Provision mints the token, URL and QR artifact for f.
// An unparsable window is logged and reported as ErrUnparsableWindow.
func (s *Service) Provision(_ context.Context, f *facility.Facility) (*Provisioned, error) {
	claims, err := Claims(f)
	if err != nil {
		s.logger.Error("cannot provision facility",
			"facility_id", f.ID,
			"facility_name", f.Name,
			"error", err,
		)
		return nil, err
	}

	token, err := s.codec.Encode(claims)
	if err != nil {
		return nil, err
	}

	link := s.URL(token)
	png, err := s.renderer.Render(link)
	if err != nil {
		return nil, err
	}

	return &Provisioned{Token: token, URL: link, Artifact: png}, nil
}

// URL returns the contractor app URL carrying token.
func (s *Service) URL(token string) string {
	sep := "?"
	if strings.Contains(s.appURL, "?") {
		sep = "&"
	}
	return s.appURL + sep + "authenticate=" + url.QueryEscape(token)
}

// ExportRequest selects a customer's facilities. Empty FacilityIDs means all.
type ExportRequest struct {
	CustomerID  int64   `json:"customer_id"`
	FacilityIDs []int64 `json:"facility_ids,omitempty"`
}

// ExportSummary counts what Export wrote.
type ExportSummary struct {
	Facilities int `json:"facilities"`
	Skipped    int `json:"skipped"`
}

// Export writes a ZIP archive to w with one folder per customer and one
// sub-folder per facility holding the QR PNG and a text file with the URL.
// Facilities with unparsable windows are skipped. A facility named in more
// than one request is written once, and a facility whose folder name
// collides with an earlier one gets its ID appended.
func (s *Service) Export(ctx context.Context, reqs []ExportRequest, w io.Writer) (ExportSummary, error) {
	var sum ExportSummary
	zw := zip.NewWriter(w)
	written := make(map[int64]bool)
	dirs := make(map[string]bool)

	for _, req := range reqs {
		customer, err := s.catalog.GetCustomer(ctx, req.CustomerID)
		if err != nil {
			return sum, err
		}

		facilities, err := s.catalog.ListFacilities(ctx, req.CustomerID, req.FacilityIDs)
		if err != nil {
			return sum, err
		}

		for i := range facilities {
			f := &facilities[i]
			if written[f.ID] {
				continue
			}
			p, err := s.Provision(ctx, f)
			if errors.Is(err, ErrUnparsableWindow) {
				sum.Skipped++
				continue
			}
			if err != nil {
				return sum, err
			}

			count, err := s.catalog.CountDevices(ctx, f.ID)
			if err != nil {
				return sum, err
			}

			dir := entryName(customer.Name) + "/" + entryName(f.Name)
			if dirs[dir] {
				dir += "_" + strconv.FormatInt(f.ID, 10)
			}
			dirs[dir] = true
			written[f.ID] = true
			dir += "/"
			png := entryName("QRCode+" + customer.Name + "+" + f.Name + "+" + strconv.Itoa(count) + "+app-url.png")
			txt := entryName("FacilityTokenURL_" + f.Name + ".txt")

			if err := writeEntry(zw, dir+png, p.Artifact); err != nil {
				return sum, err
			}
			if err := writeEntry(zw, dir+txt, []byte(p.URL)); err != nil {
				return sum, err
			}
			sum.Facilities++
		}
	}

	if err := zw.Close(); err != nil {
		return sum, fmt.Errorf("closing archive: %w", err)
	}
	return sum, nil
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	fw, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("creating %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// entryName makes a name safe for a single archive path segment.
func entryName(s string) string {
	return strings.NewReplacer(" ", "_", "/", "_", "\\", "_").Replace(s)
}
