package enums

import "fmt"

// FileStatus tracks derivative generation for a stored file.
type FileStatus string

const (
	FileStatusReady      FileStatus = "ready"
	FileStatusInProgress FileStatus = "in_progress"
	FileStatusFailed     FileStatus = "failed"
)

var validFileStatuses = []FileStatus{
	FileStatusReady,
	FileStatusInProgress,
	FileStatusFailed,
}

func (s FileStatus) String() string {
	return string(s)
}

// IsValid reports whether the status is known.
func (s FileStatus) IsValid() bool {
	for _, candidate := range validFileStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// FilePolicy mirrors the storage ACL of the backing object.
type FilePolicy string

const (
	FilePolicyPublicRead FilePolicy = "public_read"
	FilePolicyPrivate    FilePolicy = "private"
)

var validFilePolicies = []FilePolicy{
	FilePolicyPublicRead,
	FilePolicyPrivate,
}

func (p FilePolicy) String() string {
	return string(p)
}

// IsValid reports whether the policy is known.
func (p FilePolicy) IsValid() bool {
	for _, candidate := range validFilePolicies {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseFilePolicy converts raw input into a FilePolicy.
func ParseFilePolicy(value string) (FilePolicy, error) {
	for _, candidate := range validFilePolicies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid file policy %q", value)
}

// FileSection namespaces stored files by the part of the site that owns them.
type FileSection string

const (
	FileSectionBlog      FileSection = "blog"
	FileSectionPage      FileSection = "page"
	FileSectionProduct   FileSection = "product"
	FileSectionGallery   FileSection = "gallery"
	FileSectionUser      FileSection = "user"
	FileSectionSiteLogo  FileSection = "site_logo"
	FileSectionBrandLogo FileSection = "brand_logo"
	FileSectionOther     FileSection = "other"
)

var validFileSections = []FileSection{
	FileSectionBlog,
	FileSectionPage,
	FileSectionProduct,
	FileSectionGallery,
	FileSectionUser,
	FileSectionSiteLogo,
	FileSectionBrandLogo,
	FileSectionOther,
}

func (s FileSection) String() string {
	return string(s)
}

// IsValid reports whether the section is known.
func (s FileSection) IsValid() bool {
	for _, candidate := range validFileSections {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsLogo reports whether the section holds site or brand logos, which never get derivatives.
func (s FileSection) IsLogo() bool {
	return s == FileSectionSiteLogo || s == FileSectionBrandLogo
}

// ParseFileSection converts raw input into a FileSection.
func ParseFileSection(value string) (FileSection, error) {
	for _, candidate := range validFileSections {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid file section %q", value)
}
