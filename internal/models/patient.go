package models

// Role 账号角色（查询账号时一次性确定）
type Role string

const (
	RoleUnknown Role = "Unknown"
	RolePatient Role = "Patient"
	RoleDoctor  Role = "Doctor"
)

// Patient 患者（外部账号服务拥有，这里只读）
type Patient struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	DoctorID *int64 `json:"doctor,omitempty"`
}

// Account 登录账号及其角色
type Account struct {
	Username  string `json:"username"`
	Role      Role   `json:"role"`
	PatientID *int64 `json:"patient_id,omitempty"`
	DoctorID  *int64 `json:"doctor_id,omitempty"`
}
