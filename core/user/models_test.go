package user

import "testing"

func TestUser_roles(t *testing.T) {
	tests := []struct {
		name    string
		roles   []string
		admin   bool
		teacher bool
		student bool
	}{
		{name: "none"},
		{name: "admin owner", roles: []string{RoleAdminOwner}, admin: true},
		{name: "teacher", roles: []string{RoleTeacher}, teacher: true},
		{name: "student", roles: []string{RoleStudent}, student: true},
		{name: "mixed", roles: []string{RoleTeacher, RoleAdminPrincipal}, admin: true, teacher: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usr := User{Roles: tt.roles}
			if got := usr.IsAdmin(); got != tt.admin {
				t.Errorf("IsAdmin() = %v, want %v", got, tt.admin)
			}
			if got := usr.IsTeacher(); got != tt.teacher {
				t.Errorf("IsTeacher() = %v, want %v", got, tt.teacher)
			}
			if got := usr.IsStudent(); got != tt.student {
				t.Errorf("IsStudent() = %v, want %v", got, tt.student)
			}
		})
	}
}

func TestUser_password(t *testing.T) {
	var usr User
	if err := usr.SetPassword("s3cret"); err != nil {
		t.Fatalf("SetPassword() error = %v", err)
	}
	if err := usr.CheckPassword("s3cret"); err != nil {
		t.Error("CheckPassword() must accept the set password")
	}
	if err := usr.CheckPassword("wrong"); err == nil {
		t.Error("CheckPassword() must reject a wrong password")
	}
}

func TestNewUser_Validate(t *testing.T) {
	tests := []struct {
		name    string
		nu      NewUser
		wantErr bool
	}{
		{name: "valid", nu: NewUser{OrgID: "o1", Name: "Awe", Email: "Awe@Test.cd", Password: "pwd"}},
		{name: "missing org", nu: NewUser{Name: "Awe", Email: "awe@test.cd", Password: "pwd"}, wantErr: true},
		{name: "bad email", nu: NewUser{OrgID: "o1", Name: "Awe", Email: "nope", Password: "pwd"}, wantErr: true},
		{name: "missing password", nu: NewUser{OrgID: "o1", Name: "Awe", Email: "awe@test.cd"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.nu.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewUser_Validate_cleansFields(t *testing.T) {
	nu := NewUser{OrgID: "o1", Name: " Awe ", Email: " Awe@Test.CD ", Password: "pwd"}
	if err := nu.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if nu.Name != "Awe" {
		t.Errorf("Name = %q, want Awe", nu.Name)
	}
	if nu.Email != "awe@test.cd" {
		t.Errorf("Email = %q, want awe@test.cd (lowered)", nu.Email)
	}
}
