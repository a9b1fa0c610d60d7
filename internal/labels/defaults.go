package labels

import "kc-go/internal/model"

// defaultGroups is the label vocabulary shipped with kc. Order matters:
// it fixes bit assignments, so new labels are only ever appended.
var defaultGroups = map[string][]string{
	model.GroupCategories: {
		"SCHOOL",
		"SCHOOL.MATHEMATICS",
		"SCHOOL.MATHEMATICS.ARITHMETIC",
		"SCHOOL.MATHEMATICS.ALGEBRA",
		"SCHOOL.MATHEMATICS.GEOMETRY",
		"SCHOOL.MATHEMATICS.CALCULUS",
		"SCHOOL.MATHEMATICS.STATISTICS",
		"SCHOOL.SCIENCES",
		"SCHOOL.SCIENCES.BIOLOGY",
		"SCHOOL.SCIENCES.CHEMISTRY",
		"SCHOOL.SCIENCES.PHYSICS",
		"SCHOOL.SCIENCES.EARTH_SCIENCE",
		"SCHOOL.SCIENCES.ASTRONOMY",
		"SCHOOL.SCIENCES.ENVIRONMENTAL_SCIENCE",
		"SCHOOL.SOCIAL_SCIENCES",
		"SCHOOL.SOCIAL_SCIENCES.ANTHROPOLOGY",
		"SCHOOL.SOCIAL_SCIENCES.CIVIC_EDUCATION",
		"SCHOOL.SOCIAL_SCIENCES.POLITICAL_SCIENCE",
		"SCHOOL.SOCIAL_SCIENCES.SOCIOLOGY",
		"SCHOOL.SOCIAL_SCIENCES.PSYCHOLOGY",
		"SCHOOL.HISTORY",
		"SCHOOL.GEOGRAPHY",
		"SCHOOL.LANGUAGE_LEARNING",
		"SCHOOL.LITERACY",
		"SCHOOL.READING_AND_WRITING",
		"SCHOOL.READING_AND_WRITING.LITERATURE",
		"SCHOOL.READING_AND_WRITING.WRITING",
		"SCHOOL.READING_AND_WRITING.PHONICS",
		"SCHOOL.ARTS",
		"SCHOOL.ARTS.DANCE",
		"SCHOOL.ARTS.DRAMA",
		"SCHOOL.ARTS.MUSIC",
		"SCHOOL.ARTS.VISUAL_ART",
		"SCHOOL.COMPUTER_SCIENCE",
		"SCHOOL.COMPUTER_SCIENCE.PROGRAMMING",
		"SCHOOL.COMPUTER_SCIENCE.MECHANICAL_ENGINEERING",
		"SCHOOL.COMPUTER_SCIENCE.WEB_DESIGN",
		"SCHOOL.COMPUTER_SCIENCE.ELECTRICAL_ENGINEERING",
		"TECHNICAL_AND_VOCATIONAL_TRAINING",
		"TECHNICAL_AND_VOCATIONAL_TRAINING.SOFTWARE_TOOLS",
		"TECHNICAL_AND_VOCATIONAL_TRAINING.ENTREPRENEURSHIP",
		"TECHNICAL_AND_VOCATIONAL_TRAINING.INDUSTRY_AND_SECTOR_SPECIFIC",
		"TECHNICAL_AND_VOCATIONAL_TRAINING.INDUSTRY_AND_SECTOR_SPECIFIC.AGRICULTURE",
		"TECHNICAL_AND_VOCATIONAL_TRAINING.INDUSTRY_AND_SECTOR_SPECIFIC.PUBLIC_HEALTH",
		"TECHNICAL_AND_VOCATIONAL_TRAINING.INDUSTRY_AND_SECTOR_SPECIFIC.TOURISM",
		"TECHNICAL_AND_VOCATIONAL_TRAINING.INDUSTRY_AND_SECTOR_SPECIFIC.PROFESSIONAL_TRAINING",
		"SKILLS_TRAINING",
		"SKILLS_TRAINING.DIGITAL_LITERACY",
		"SKILLS_TRAINING.FINANCIAL_LITERACY",
		"SKILLS_TRAINING.LITERACY",
		"SKILLS_TRAINING.NUMERACY",
		"SKILLS_TRAINING.PUBLIC_SPEAKING",
		"SKILLS_TRAINING.WORKPLACE_SKILLS",
		"SKILLS_TRAINING.LEARNING_SKILLS",
		"FOUNDATIONS",
		"FOUNDATIONS.LOGIC_AND_CRITICAL_THINKING",
		"FOUNDATIONS.LEARNING_SKILLS",
		"FOUNDATIONS.LITERACY",
		"FOUNDATIONS.NUMERACY",
		"DAILY_LIFE",
		"DAILY_LIFE.CURRENT_EVENTS",
		"DAILY_LIFE.DIVERSITY",
		"DAILY_LIFE.ENVIRONMENT",
		"DAILY_LIFE.FAMILY_AND_LIFE",
		"DAILY_LIFE.FINANCIAL_LITERACY",
		"DAILY_LIFE.MEDIA_LITERACY",
		"DAILY_LIFE.MENTAL_HEALTH",
		"DAILY_LIFE.NEWS",
		"DAILY_LIFE.SAFETY",
		"DAILY_LIFE.SPORTS_AND_PHYSICAL_ACTIVITIES",
		"DAILY_LIFE.PHYSICAL_HEALTH",
		"DAILY_LIFE.RELATIONSHIPS",
	},
	model.GroupGradeLevels: {
		"PRESCHOOL",
		"LOWER_PRIMARY",
		"UPPER_PRIMARY",
		"LOWER_SECONDARY",
		"UPPER_SECONDARY",
		"TERTIARY",
		"SPECIALIZED",
		"PROFESSIONAL",
		"WORK_SKILLS",
		"BASIC_SKILLS",
		"FOUNDATIONS",
	},
	model.GroupLearningActivities: {
		"CREATE",
		"LISTEN",
		"REFLECT",
		"PRACTICE",
		"READ",
		"WATCH",
		"EXPLORE",
	},
	model.GroupAccessibilityLabels: {
		"ALT_TEXT",
		"HIGH_CONTRAST",
		"SIGN_LANGUAGE",
		"AUDIO_DESCRIPTION",
		"TAGGED_PDF",
		"CAPTIONS_SUBTITLES",
	},
	model.GroupLearnerNeeds: {
		"PEERS",
		"TEACHER",
		"PRIOR_KNOWLEDGE",
		"INTERNET",
		"SPECIAL_SOFTWARE",
		"PAPER_PENCIL",
		"MATERIALS",
	},
}

// Default returns the registry for kc's built-in label vocabulary over the
// schema's bitmask columns. It panics if the vocabulary does not fit, which
// can only happen after an edit to defaultGroups without a matching column.
func Default() *Registry {
	r, err := Build(defaultGroups, model.BitmaskColumns)
	if err != nil {
		panic("labels: default vocabulary: " + err.Error())
	}
	return r
}
