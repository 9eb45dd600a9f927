package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/meditrust/medsync_backend/config"
	"bitbucket.org/meditrust/medsync_backend/utils"
	"gorm.io/gorm"
)

// Roles, lowest to highest privilege.
const (
	RoleNurse       = "nurse"
	RoleDoctor      = "doctor"
	RoleEmergency   = "emergency"
	RoleBranchAdmin = "branch_admin"
	RoleSuperAdmin  = "super_admin"
)

// User is a replicated entity. BranchId is the partition key: the node that
// owns the branch is the only legitimate writer. LastUpdated is set
// explicitly on every write; replication depends on it.
type User struct {
	ID          int       `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Username    string    `gorm:"size:50;not null;uniqueIndex" json:"username"`
	Password    string    `gorm:"size:100;not null" json:"-"`
	Role        string    `gorm:"size:20;not null" json:"role"`
	BranchId    int       `gorm:"not null;index" json:"branch_id"`
	LastUpdated time.Time `gorm:"column:last_updated;index" json:"last_updated"`
}

func (User) TableName() string { return "users" }

type NewUser struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role" binding:"required"`
	BranchId int    `json:"branch_id" binding:"required"`
}

// CreateUser writes at the node that owns the user's branch. The integer id
// is minted once at the owning node and reused verbatim on the replicas.
func CreateUser(ctx context.Context, nodeId string, input *NewUser) (*User, error) {
	db := config.GetNode(nodeId)
	if db == nil {
		return nil, errors.New("node not connected: " + nodeId)
	}

	hash, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	user := User{
		Username:    input.Username,
		Password:    string(hash),
		Role:        input.Role,
		BranchId:    input.BranchId,
		LastUpdated: utils.TruncateToSecond(time.Now()),
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, terr := nextIntID(tx, "users")
		if terr != nil {
			return terr
		}
		user.ID = id
		return tx.Create(&user).Error
	})
	if err != nil {
		return nil, err
	}

	notifyBusinessWrite()
	return &user, nil
}

func GetUserByUsername(ctx context.Context, nodeId string, username string) (*User, error) {
	db := config.GetNode(nodeId)
	if db == nil {
		return nil, errors.New("node not connected: " + nodeId)
	}
	var user User
	if err := db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUsers lists users visible to the caller's role: branch admins see their
// branch only, super admins see everything.
func GetUsers(ctx context.Context, nodeId string) ([]*User, error) {
	db := config.GetNode(nodeId)
	if db == nil {
		return nil, errors.New("node not connected: " + nodeId)
	}

	dbCtx := db.WithContext(ctx)
	role, _ := utils.GetRoleFromContext(ctx)
	switch role {
	case RoleSuperAdmin:
	case RoleBranchAdmin:
		branchId, ok := utils.GetBranchIdFromContext(ctx)
		if !ok {
			return nil, errors.New("branch id is required")
		}
		dbCtx = dbCtx.Where("branch_id = ?", branchId)
	default:
		return nil, errors.New("not allowed to list users")
	}

	var results []*User
	if err := dbCtx.Order("id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
