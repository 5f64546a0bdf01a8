package storage

import (
	"fmt"
	"strings"
)

// AssetPurpose selects the bucket layout for an object.
type AssetPurpose string

const (
	PurposeHeroSlide   AssetPurpose = "hero-slide"
	PurposeOrderExport AssetPurpose = "order-export"
)

// PathParams carries the identifiers a purpose needs to compose its key.
type PathParams struct {
	SlideID  string
	Stamp    string
	FileName string
}

// BuildObjectPath resolves the storage object path for the purpose. Every
// segment is validated against traversal so request-supplied file names
// cannot escape their prefix.
func BuildObjectPath(purpose AssetPurpose, params PathParams) (string, error) {
	switch purpose {
	case PurposeHeroSlide:
		return heroSlidePath(params)
	case PurposeOrderExport:
		return orderExportPath(params)
	}
	return "", fmt.Errorf("storage: unsupported asset purpose %q", purpose)
}

func heroSlidePath(params PathParams) (string, error) {
	slideID, err := cleanSegment("slideID", params.SlideID)
	if err != nil {
		return "", err
	}
	fileName, err := cleanSegment("fileName", params.FileName)
	if err != nil {
		return "", err
	}
	return "content/hero/" + slideID + "/" + fileName, nil
}

func orderExportPath(params PathParams) (string, error) {
	name := strings.TrimSpace(params.FileName)
	if name == "" && strings.TrimSpace(params.Stamp) != "" {
		name = "orders-" + strings.TrimSpace(params.Stamp) + ".csv"
	}
	fileName, err := cleanSegment("fileName", name)
	if err != nil {
		return "", err
	}
	return "exports/orders/" + fileName, nil
}

func cleanSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
