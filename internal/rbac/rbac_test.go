package rbac

import "testing"

func TestDefaultPolicyAdminAllowsEverything(t *testing.T) {
	r := New(nil)
	if !r.IsAllowed("admin", "lock_door") {
		t.Error("expected admin to be allowed any tool by default")
	}
}

func TestUnknownRoleDenied(t *testing.T) {
	r := New(nil)
	if r.IsAllowed("guest", "control_light") {
		t.Error("expected unknown role to be denied")
	}
}

func TestExplicitToolList(t *testing.T) {
	r := New(map[string][]string{
		"viewer": {"get_device_status", "get_sensor_data"},
	})
	if !r.IsAllowed("viewer", "get_device_status") {
		t.Error("expected viewer to be allowed get_device_status")
	}
	if r.IsAllowed("viewer", "lock_door") {
		t.Error("expected viewer to be denied lock_door")
	}
}
