// Package domain defines the persistence models for medicines, users, their
// contact profiles and scheduled reminders. These types are mapped with GORM
// and form the data layer read and updated by the reminder dispatcher.
package domain

import (
	"strings"
	"time"
)

// Medicine is a medication a user takes. The dispatcher only reads it to
// name the medicine in outgoing reminders.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Name: display name used in subject and body.
//   - Dosage / Frequency: free text carried for the record owner.
//   - StartDate / EndDate: optional course window.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type Medicine struct {
	ID        string     `json:"id"         gorm:"type:char(36);primaryKey"`
	Name      string     `json:"name"       gorm:"type:varchar(255);not null"`
	Dosage    string     `json:"dosage"     gorm:"type:varchar(100)"`
	Frequency string     `json:"frequency"  gorm:"type:varchar(100)"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Medicine.
func (Medicine) TableName() string { return "medicines" }

// User is an account that owns reminders. Email may be empty.
type User struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Username  string    `json:"username"   gorm:"type:varchar(150);not null;uniqueIndex"`
	Email     string    `json:"email"      gorm:"type:varchar(254)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// UserProfile holds optional contact details for a user (one-to-one).
//
// Fields:
//   - UserID: owning user; unique so a user has at most one profile.
//   - Phone: optional phone number in E.164 form; nil when absent.
//   - Timezone: optional IANA zone used when rendering scheduled times.
//   - User: FK association, cascade-deleted with the user.
type UserProfile struct {
	ID        string    `json:"id"       gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id"  gorm:"type:char(36);not null;uniqueIndex"`
	Phone     *string   `json:"phone,omitempty" gorm:"type:varchar(32)"`
	Timezone  string    `json:"timezone" gorm:"type:varchar(64)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for UserProfile.
func (UserProfile) TableName() string { return "user_profiles" }

// Reminder is a single scheduled notification about a medicine.
//
// Once Delivered is true the dispatcher never selects the row again, and it
// never sets the flag back to false. Rows are created and deleted by the
// record-management side of the application.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - MedicineID: the medicine this reminder is about.
//   - UserID: optional owner; a reminder without an owner is still processed.
//   - ScheduledAt: instant the reminder becomes due (stored in UTC).
//   - Delivered: set once by the dispatcher; indexed with ScheduledAt.
type Reminder struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	MedicineID  string    `json:"medicine_id"  gorm:"type:char(36);not null;index"`
	UserID      *string   `json:"user_id,omitempty" gorm:"type:char(36);index"`
	ScheduledAt time.Time `json:"scheduled_at" gorm:"not null;index:idx_reminders_due,priority:2"`
	Delivered   bool      `json:"delivered"    gorm:"not null;default:false;index:idx_reminders_due,priority:1"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Medicine Medicine `json:"medicine" gorm:"foreignKey:MedicineID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	User     *User    `json:"-"        gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

// TableName returns the database table name for Reminder.
func (Reminder) TableName() string { return "reminders" }

// Contact is the derived recipient information for a reminder's owner.
// Empty fields mean "absent", which is a normal condition.
type Contact struct {
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// HasEmail reports whether an email address is on file.
func (c Contact) HasEmail() bool { return strings.TrimSpace(c.Email) != "" }

// HasPhone reports whether a phone number is on file.
func (c Contact) HasPhone() bool { return strings.TrimSpace(c.Phone) != "" }
