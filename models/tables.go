package models

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	PinLen            = 6
	IDLen             = 24 // raw random bytes, 32 chars once url-safe b64 encoded
	NameLen           = 256
	AppSecretLen      = 64
	UsernameLen       = 256
	BioLen            = 1024
	CounterOriginsLen = 512
	LocaleLen         = 5
	ColorLen          = 7

	AppsLimit      = 128
	CountersLimit  = 128
	BlogPostsLimit = 1024
)

// StyleDelim separates the blog-level and post-level CSS sections inside
// Blog.Style. User-entered CSS must never contain it.
const StyleDelim = "/*!--persona-style-delim--!*/"

// HugeIntMax is the counter ceiling, 10^65 - 1.
var HugeIntMax = new(big.Int).Sub(
	new(big.Int).Exp(big.NewInt(10), big.NewInt(65), nil),
	big.NewInt(1),
)

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid value")
	ErrQuota    = errors.New("resource quota exceeded")
)

// HashCost is lowered in tests, bcrypt at full cost dominates the runtime.
var HashCost = bcrypt.DefaultCost

type User struct {
	Username     string    `gorm:"primary_key;size:256" json:"username"`
	Bio          string    `gorm:"size:1024" json:"bio"`
	PasswordHash string    `gorm:"not null" json:"-"`
	PinHash      string    `gorm:"not null" json:"-"`
	Role         Role      `gorm:"not null;default:1" json:"role"`
	Limited      bool      `gorm:"default:false" json:"limited"`
	Joined       time.Time `json:"joined"`
}

type App struct {
	ID         string `gorm:"primary_key;size:64" json:"id"`
	Name       string `gorm:"size:256;not null" json:"name"`
	Public     bool   `gorm:"default:false" json:"public"`
	SecretHash string `json:"-"` // empty when public
	Username   string `gorm:"size:256;not null;index" json:"username"`
}

type Counter struct {
	ID       string `gorm:"primary_key;size:64" json:"id"`
	Name     string `gorm:"size:256;not null" json:"name"`
	Count    string `gorm:"not null;default:'0'" json:"count"` // decimal text, 0 .. 10^65-1
	Origin   string `gorm:"size:512" json:"origin"`
	Username string `gorm:"size:256;not null;index" json:"username"`
}

type Blog struct {
	Username    string `gorm:"primary_key;size:256" json:"username"`
	Title       string `gorm:"size:256;not null" json:"title"`
	Header      string `gorm:"size:256" json:"header"`
	Description string `gorm:"size:1024" json:"description"`
	Keywords    string `gorm:"size:256" json:"keywords"`
	Locale      string `gorm:"size:5" json:"locale"`  // exactly 5 chars containing "_"
	Primary     string `gorm:"size:7" json:"primary"` // #rrggbb
	Secondary   string `gorm:"size:7" json:"secondary"`
	VisitorURL  string `gorm:"size:512" json:"visitor_url"`
	CommentURL  string `gorm:"size:512" json:"comment_url"`
	CodeTheme   string `gorm:"size:64" json:"code_theme"`
	Style       string `gorm:"type:text" json:"-"` // blog css + StyleDelim + post css
}

type BlogPost struct {
	ID          string    `gorm:"primary_key;size:64" json:"id"`
	Slug        string    `gorm:"size:256;not null;index" json:"slug"`
	Title       string    `gorm:"size:256;not null" json:"title"`
	Keywords    string    `gorm:"size:256" json:"keywords"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	Description string    `gorm:"size:1024" json:"description"`
	Username    string    `gorm:"size:256;not null;index" json:"username"`
	Posted      time.Time `json:"posted"`
	Edited      time.Time `json:"edited"`
}

// ValidateUsername reports whether the username is non-empty, within the
// length cap and made of alphanumerics plus "._+-" only.
func ValidateUsername(username string) bool {
	if username == "" || len(username) > UsernameLen {
		return false
	}

	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '+' || r == '-':
		default:
			return false
		}
	}

	return true
}

func (u *User) SetPassword(password string) error {
	if password == "" {
		return ErrInvalid
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), HashCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

func (u *User) SetPin(pin string) error {
	if len(pin) != PinLen {
		return ErrInvalid
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return ErrInvalid
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), HashCost)
	if err != nil {
		return err
	}
	u.PinHash = string(hash)
	return nil
}

func (u *User) VerifyPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

func (u *User) VerifyPin(pin string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PinHash), []byte(pin)) == nil
}

func (u *User) SetBio(bio string) error {
	if len(bio) > BioLen {
		return ErrInvalid
	}
	u.Bio = bio
	return nil
}

// NewUser builds a user with a hashed password and a freshly generated PIN.
// The plaintext PIN is returned so it can be shown exactly once after signup.
func NewUser(username, password string) (*User, string, error) {
	if !ValidateUsername(username) {
		return nil, "", ErrInvalid
	}

	user := &User{
		Username: username,
		Role:     RoleUser,
		Joined:   time.Now().UTC(),
	}

	if err := user.SetPassword(password); err != nil {
		return nil, "", err
	}

	pin, err := GenPin()
	if err != nil {
		return nil, "", err
	}

	if err := user.SetPin(pin); err != nil {
		return nil, "", err
	}

	return user, pin, nil
}

// DeleteUser removes the user and everything they own in one transaction.
func DeleteUser(db *gorm.DB, username string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{
			&App{}, &Counter{}, &BlogPost{}, &Blog{},
		} {
			if err := tx.Where("username = ?", username).Delete(model).Error; err != nil {
				return err
			}
		}

		return tx.Where("username = ?", username).Delete(&User{}).Error
	})
}

func GetUser(db *gorm.DB, username string) (*User, error) {
	var user User
	if err := db.First(&user, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GenPin generates a random numeric PIN of PinLen digits.
func GenPin() (string, error) {
	var pin strings.Builder
	for i := 0; i < PinLen; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		pin.WriteByte(byte('0' + n.Int64()))
	}
	return pin.String(), nil
}

// GenToken returns a url-safe token of n random bytes.
func GenToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenID generates an opaque resource id, re-querying the table until the id
// is free. The storage-level unique constraint stays the final authority, the
// loop only keeps the common path collision-free.
func GenID(db *gorm.DB, model interface{}) (string, error) {
	for {
		id, err := GenToken(IDLen)
		if err != nil {
			return "", err
		}

		var count int64
		if err := db.Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
			return "", err
		}

		if count == 0 {
			return id, nil
		}
	}
}

// HashSecret hashes an app secret for at-rest storage. bcrypt ignores input
// past 72 bytes, so longer secrets are truncated consistently on both paths.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(clip72(secret), HashCost)
	return string(hash), err
}

func VerifySecret(secret, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), clip72(secret)) == nil
}

func clip72(s string) []byte {
	if len(s) > 72 {
		return []byte(s[:72])
	}
	return []byte(s)
}

// BlogCSS returns the blog-level section of the style blob.
func (b *Blog) BlogCSS() string {
	css, _, _ := strings.Cut(b.Style, StyleDelim)
	return css
}

// PostCSS returns the post-level section of the style blob.
func (b *Blog) PostCSS() string {
	_, css, found := strings.Cut(b.Style, StyleDelim)
	if !found {
		return ""
	}
	return css
}

// SetStyle joins the two CSS sections into the style blob. A section
// containing the delimiter is rejected, the splitter has to stay unambiguous.
func (b *Blog) SetStyle(blogCSS, postCSS string) error {
	if strings.Contains(blogCSS, StyleDelim) || strings.Contains(postCSS, StyleDelim) {
		return ErrInvalid
	}
	b.Style = blogCSS + StyleDelim + postCSS
	return nil
}

func (b *Blog) SetTitle(title string) error {
	if title == "" || len(title) > NameLen {
		return ErrInvalid
	}
	b.Title = title
	return nil
}

func (b *Blog) SetHeader(header string) error {
	if len(header) > NameLen {
		return ErrInvalid
	}
	b.Header = header
	return nil
}

func (b *Blog) SetDescription(description string) error {
	if len(description) > BioLen {
		return ErrInvalid
	}
	b.Description = description
	return nil
}

func (b *Blog) SetKeywords(keywords string) error {
	if len(keywords) > NameLen {
		return ErrInvalid
	}
	b.Keywords = keywords
	return nil
}

func (b *Blog) SetLocale(locale string) error {
	if len(locale) != LocaleLen || !strings.Contains(locale, "_") {
		return ErrInvalid
	}
	b.Locale = locale
	return nil
}

func (b *Blog) SetPrimary(color string) error {
	if !validColor(color) {
		return ErrInvalid
	}
	b.Primary = color
	return nil
}

func (b *Blog) SetSecondary(color string) error {
	if !validColor(color) {
		return ErrInvalid
	}
	b.Secondary = color
	return nil
}

func (b *Blog) SetVisitorURL(url string) error {
	if len(url) > CounterOriginsLen {
		return ErrInvalid
	}
	b.VisitorURL = url
	return nil
}

func (b *Blog) SetCommentURL(url string) error {
	if len(url) > CounterOriginsLen {
		return ErrInvalid
	}
	b.CommentURL = url
	return nil
}

func (b *Blog) SetCodeTheme(theme string) error {
	if len(theme) > 64 {
		return ErrInvalid
	}
	b.CodeTheme = theme
	return nil
}

func validColor(color string) bool {
	if len(color) != ColorLen || color[0] != '#' {
		return false
	}
	for _, r := range color[1:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

func (p *BlogPost) SetTitle(title string) error {
	if title == "" || len(title) > NameLen {
		return ErrInvalid
	}
	p.Title = title
	return nil
}

func (p *BlogPost) SetKeywords(keywords string) error {
	if len(keywords) > NameLen {
		return ErrInvalid
	}
	p.Keywords = keywords
	return nil
}

func (p *BlogPost) SetContent(content string) error {
	if content == "" {
		return ErrInvalid
	}
	p.Content = content
	return nil
}

func (p *BlogPost) SetDescription(description string) error {
	if len(description) > BioLen {
		return ErrInvalid
	}
	p.Description = description
	return nil
}
