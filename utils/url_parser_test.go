package utils

import (
	"strings"
	"testing"
)

func TestParseQuery(t *testing.T) {
	q := `SERVICE=WCS&Request=DescribeEOCoverageSet&EOID=a%2Cb&subset=phenomenonTime("2006-08-01T00:00:00+02:00","2006-08-22")&subset=Long(16,18)&title=a+b`
	m, err := ParseQuery(q)
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}

	if got := m["service"]; len(got) != 1 || got[0] != "WCS" {
		t.Errorf("service: %v", got)
	}
	if got := m["eoid"]; len(got) != 1 || got[0] != "a,b" {
		t.Errorf("eoid: %v", got)
	}
	subsets := m["subset"]
	if len(subsets) != 2 {
		t.Fatalf("expected 2 subsets, got %v", subsets)
	}
	if !strings.Contains(subsets[0], "+02:00") {
		t.Errorf("'+' in subset was not preserved: %s", subsets[0])
	}
	if got := m["title"]; len(got) != 1 || got[0] != "a b" {
		t.Errorf("title: %v", got)
	}
}

func TestParseQueryEscapedAmpersand(t *testing.T) {
	m, err := ParseQuery(`layers=a\&b&styles=`)
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	if got := m["layers"]; len(got) != 1 || got[0] != "a&b" {
		t.Errorf("layers: %v", got)
	}
	if got, ok := m["styles"]; !ok || got[0] != "" {
		t.Errorf("styles: %v", got)
	}
}

func TestParseQueryBadEscape(t *testing.T) {
	m, err := ParseQuery(`a=%zz&b=1`)
	if err == nil {
		t.Errorf("expected an error for a bad escape")
	}
	if got := m["b"]; len(got) != 1 || got[0] != "1" {
		t.Errorf("valid pairs should still be parsed, got %v", m)
	}
}

func TestIsFormPost(t *testing.T) {
	if !IsFormPost("application/x-www-form-urlencoded; charset=utf-8") {
		t.Errorf("form content type not detected")
	}
	if IsFormPost("text/xml") {
		t.Errorf("xml detected as form")
	}
}
