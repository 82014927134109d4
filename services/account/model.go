package account

import (
	"fmt"
	"time"
)

type Account struct {
	ID              string     `gorm:"column:id;primaryKey" json:"id"`
	FirstName       string     `gorm:"column:first_name" json:"first_name"`
	LastName        string     `gorm:"column:last_name" json:"last_name"`
	Username        string     `gorm:"column:username" json:"username"`
	LanguageCode    string     `gorm:"column:language_code" json:"language_code"`
	RefCode         *string    `gorm:"column:ref_code;uniqueIndex" json:"ref_code,omitempty"`
	ReferredBy      *string    `gorm:"column:referred_by;index" json:"referred_by,omitempty"`
	RefCount        int64      `gorm:"column:ref_count;not null;default:0" json:"ref_count"`
	Diamonds        int64      `gorm:"column:diamonds;not null;default:0" json:"diamonds"`
	WeekScore       int64      `gorm:"column:week_score;not null;default:0;index" json:"week_score"`
	MonthScore      int64      `gorm:"column:month_score;not null;default:0;index" json:"month_score"`
	RewardClaimedAt *time.Time `gorm:"column:reward_claimed_at" json:"reward_claimed_at,omitempty"`
	IsBlocked       bool       `gorm:"column:is_blocked;not null;default:false;index" json:"is_blocked"`
	LastActiveAt    time.Time  `gorm:"column:last_active_at" json:"last_active_at"`
	CreatedAt       time.Time  `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

// DisplayName is the name shown on leaderboards.
func (a Account) DisplayName() string {
	switch {
	case a.FirstName != "":
		return a.FirstName
	case a.Username != "":
		return a.Username
	default:
		return "Anonymous"
	}
}

type FileKind string

const (
	KindDocument FileKind = "document"
	KindPhoto    FileKind = "photo"
	KindVideo    FileKind = "video"
	KindAudio    FileKind = "audio"
	KindVoice    FileKind = "voice"
)

const (
	mb              = 1024 * 1024
	defaultMaxBytes = 50 * mb
)

var maxFileSize = map[FileKind]int64{
	KindDocument: 50 * mb,
	KindVideo:    50 * mb,
	KindAudio:    50 * mb,
	KindVoice:    50 * mb,
	KindPhoto:    10 * mb,
}

var defaultExt = map[FileKind]string{
	KindPhoto: ".jpg",
	KindVideo: ".mp4",
	KindAudio: ".mp3",
	KindVoice: ".ogg",
}

func (k FileKind) Valid() bool {
	_, ok := maxFileSize[k]
	return ok
}

func (k FileKind) MaxSize() int64 {
	if n, ok := maxFileSize[k]; ok {
		return n
	}
	return defaultMaxBytes
}

// DefaultName names an upload that arrived without a file name.
func (k FileKind) DefaultName(at time.Time) string {
	return fmt.Sprintf("%s_%d%s", k, at.UnixMilli(), defaultExt[k])
}

type File struct {
	ID             string    `gorm:"column:id;primaryKey" json:"id"`
	OwnerID        string    `gorm:"column:owner_id;index:idx_files_owner_created,priority:1" json:"owner_id"`
	Kind           FileKind  `gorm:"column:kind" json:"kind"`
	RemoteFileID   string    `gorm:"column:remote_file_id" json:"remote_file_id"`
	RemoteUniqueID string    `gorm:"column:remote_unique_id" json:"remote_unique_id"`
	FileName       string    `gorm:"column:file_name" json:"file_name"`
	MimeType       string    `gorm:"column:mime_type" json:"mime_type"`
	FileSize       int64     `gorm:"column:file_size" json:"file_size"`
	Note           string    `gorm:"column:note" json:"note"`
	CreatedAt      time.Time `gorm:"column:created_at;index:idx_files_owner_created,priority:2" json:"created_at"`
}

func (File) TableName() string { return "files" }

// Summary is the operator view of the whole account directory.
type Summary struct {
	TotalAccounts  int64 `json:"total_accounts"`
	ActiveToday    int64 `json:"active_today"`
	TotalFiles     int64 `json:"total_files"`
	TotalFileBytes int64 `json:"total_file_bytes"`
	TotalReferrals int64 `json:"total_referrals"`
}

type Profile struct {
	FirstName    string
	LastName     string
	Username     string
	LanguageCode string
}
