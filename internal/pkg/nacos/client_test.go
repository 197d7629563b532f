package nacos

import "testing"

func TestParseServerConfigs(t *testing.T) {
	cfgs, err := ParseServerConfigs("10.0.0.1:8848, 10.0.0.2:8848")
	if err != nil {
		t.Fatalf("ParseServerConfigs: %v", err)
	}
	if len(cfgs) != 2 || cfgs[1].IpAddr != "10.0.0.2" || cfgs[1].Port != 8848 {
		t.Fatalf("unexpected configs: %+v", cfgs)
	}

	for _, bad := range []string{"localhost", "localhost:abc"} {
		if _, err := ParseServerConfigs(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}
