package runtime

import (
	"errors"

	"go.uber.org/zap"
	"golang.org/x/mod/semver"
	"gorm.io/gorm"
)

var ErrVersionDowngrade = errors.New("runtime version is older than last seen version")

type EngineRuntime struct {
	grm    *gorm.DB
	logger *zap.Logger
}

func NewEngineRuntime(grm *gorm.DB, l *zap.Logger) *EngineRuntime {
	return &EngineRuntime{
		grm:    grm,
		logger: l,
	}
}

func (s *EngineRuntime) GetRecentlyLaunchedVersion() (*EngineVersion, error) {
	var ev EngineVersion
	res := s.grm.Model(&EngineVersion{}).Order("id desc").First(&ev)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, res.Error
	}
	return &ev, nil
}

// ValidateAndUpdateVersion refuses to start a release older than the last one
// that ran against this database, since its migrations may no longer match.
// A newer release is recorded; the same release is a no-op.
func (s *EngineRuntime) ValidateAndUpdateVersion(version string) error {
	if version == "" {
		return errors.New("empty version")
	}

	if version == "unknown" {
		s.logger.Sugar().Warnw("runtime version is unknown, not inserting into engine_versions", zap.String("version", version))
		return nil
	}
	if !semver.IsValid(version) {
		return errors.New("runtime version is not a valid semver string")
	}

	lastSeenVersion, err := s.GetRecentlyLaunchedVersion()
	if err != nil {
		return err
	}

	if lastSeenVersion != nil {
		cmp := semver.Compare(version, lastSeenVersion.Version)
		if cmp < 0 {
			return ErrVersionDowngrade
		}
		if cmp == 0 {
			s.logger.Sugar().Infow("runtime version is the same as the last seen version", zap.String("version", version))
			return nil
		}
	}

	res := s.grm.Model(&EngineVersion{}).Create(&EngineVersion{Version: version})
	return res.Error
}
