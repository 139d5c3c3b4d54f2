package subset

import (
	"regexp"
	"strconv"

	"github.com/nci/eows/utils"
)

const (
	// ImageCRS denotes pixel coordinates of the coverage grid.
	ImageCRS = "imageCRS"

	TemporalCRS = "http://www.opengis.net/def/trs/ISO-8601/0/Gregorian+UTC"

	DefaultSRID = 4326
)

var crsPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https?://www\.opengis\.net/def/crs/EPSG/0/(\d+)$`),
	regexp.MustCompile(`^urn:ogc:def:crs:EPSG:[0-9.]*:(\d+)$`),
	regexp.MustCompile(`^(?i)EPSG:(\d+)$`),
}

// CRS is a parsed subsetting CRS. The zero value means no CRS was given.
type CRS struct {
	SRID  int
	Image bool
}

func (c CRS) IsZero() bool {
	return c.SRID == 0 && !c.Image
}

// ParseCRS accepts EPSG URLs and URNs, EPSG short codes and imageCRS.
func ParseCRS(s string) (CRS, error) {
	if len(s) == 0 {
		return CRS{}, nil
	}
	if s == ImageCRS || s == "http://www.opengis.net/def/crs/OGC/0/Index2D" {
		return CRS{Image: true}, nil
	}
	for _, re := range crsPatterns {
		if m := re.FindStringSubmatch(s); m != nil {
			srid, err := strconv.Atoi(m[1])
			if err == nil && srid > 0 {
				return CRS{SRID: srid}, nil
			}
		}
	}
	return CRS{}, utils.UnknownCRS(s)
}

// CRSURL returns the OGC URL of an EPSG code.
func CRSURL(srid int) string {
	return "http://www.opengis.net/def/crs/EPSG/0/" + strconv.Itoa(srid)
}
