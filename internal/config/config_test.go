package config

import (
	"strings"
	"testing"
)

func TestParseBounds(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
		enabled bool
	}{
		{name: "empty disables filter", in: "", enabled: false},
		{name: "valid box", in: "-5.5,40.0,9.6,51.1", enabled: true},
		{name: "spaces tolerated", in: " 0, 0, 1, 1 ", enabled: true},
		{name: "too few values", in: "1,2,3", wantErr: true},
		{name: "non-numeric", in: "a,b,c,d", wantErr: true},
		{name: "minlon past maxlon", in: "2,0,1,1", wantErr: true},
		{name: "minlat past maxlat", in: "0,2,1,1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseBounds(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tt.wantErr)
			}
			if err == nil && f.Enabled != tt.enabled {
				t.Errorf("enabled = %v, want %v", f.Enabled, tt.enabled)
			}
		})
	}
}

func TestBoundsFilterAccept(t *testing.T) {
	f, err := ParseBounds("0,0,10,10")
	if err != nil {
		t.Fatalf("failed to parse bounds: %v", err)
	}
	if !f.Accept(5, 5) {
		t.Error("interior point rejected")
	}
	if !f.Accept(0, 0) || !f.Accept(10, 10) {
		t.Error("boundary point rejected")
	}
	if f.Accept(11, 5) || f.Accept(5, -1) {
		t.Error("exterior point accepted")
	}

	var off BoundsFilter
	if !off.Accept(200, 200) {
		t.Error("disabled filter rejected a point")
	}
}

func TestConnectionString(t *testing.T) {
	c := DefaultConfig()
	c.DBHost = "db.example"
	c.DBName = "gis"
	s := c.ConnectionString()
	if !strings.Contains(s, "host=db.example") || !strings.Contains(s, "dbname=gis") {
		t.Errorf("connection string = %q", s)
	}
	if strings.Contains(s, "password=") {
		t.Errorf("empty password leaked into %q", s)
	}
	c.DBPassword = "hunter2"
	if !strings.Contains(c.ConnectionString(), "password=hunter2") {
		t.Errorf("password missing from %q", c.ConnectionString())
	}
}

func TestValidate(t *testing.T) {
	c := DefaultConfig()
	if err := c.Validate(); err == nil {
		t.Error("missing input file accepted")
	}
	c.InputFile = "region.osm.pbf"
	if err := c.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
	c.Dataset = ""
	if err := c.Validate(); err == nil {
		t.Error("empty dataset accepted")
	}
	c.Dataset = "osm"
	c.CommitInterval = 0
	if err := c.Validate(); err == nil {
		t.Error("zero commit interval accepted")
	}
}
