package rbac

const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// RolePermissions is the default policy.
var RolePermissions = map[string][]string{
	RoleStudent: {
		"lesson:view",
		"quizlet:view",
		"exam:view",
		"exam:take",
		"schedule:manage",
		"profile:view",
		"submission:view-own",
	},
	RoleTeacher: {
		"lesson:*",
		"quizlet:view",
		"exam:view",
		"exam:take",
		"schedule:manage",
		"profile:view",
		"submission:*",
		"session:view-all",
	},
	RoleAdmin: {
		"*",
	},
}
