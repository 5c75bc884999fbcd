package qa

// toolCatalog fixes the appraisal instrument per document type. Item texts
// follow the published instruments; guidance is condensed to what the
// assessing model needs to locate evidence.
var toolCatalog = map[DocumentType]Tool{
	DocSystematicReview: {
		Name:      "AMSTAR 2 (A MeaSurement Tool to Assess systematic Reviews) - 16 items",
		Judgments: "yes/partial yes/no",
		Criteria: []Criterion{
			{ID: "sr_q1", Text: "Did the research questions and inclusion criteria for the review include the components of PICO?", Guidance: "The research question should be clearly defined and include all relevant PICO components.", Critical: true},
			{ID: "sr_q2", Text: "Did the report of the review contain an explicit statement that the review methods were established prior to the conduct of the review and did the report justify any significant deviations from the protocol?", Guidance: "Look for a protocol (e.g., PROSPERO registration). Deviations should be justified.", Critical: true},
			{ID: "sr_q3", Text: "Did the review authors explain their selection of the study designs for inclusion in the review?", Guidance: "Reasons should be given for including or excluding particular study designs."},
			{ID: "sr_q4", Text: "Did the review authors use a comprehensive literature search strategy?", Guidance: "At least two databases, keywords and/or MeSH terms, and reference list searching.", Critical: true},
			{ID: "sr_q5", Text: "Did the review authors perform study selection in duplicate?", Guidance: "Two independent reviewers with a process for resolving disagreements."},
			{ID: "sr_q6", Text: "Did the review authors perform data extraction in duplicate?", Guidance: "Two independent reviewers with a process for resolving disagreements."},
			{ID: "sr_q7", Text: "Did the review authors provide a list of excluded studies and justify the exclusions?", Guidance: "A list of full-text exclusions with reasons should be provided.", Critical: true},
			{ID: "sr_q8", Text: "Did the review authors describe the included studies in adequate detail?", Guidance: "Design, population, interventions, comparators, and outcomes should be described."},
			{ID: "sr_q9", Text: "Did the review authors use a satisfactory technique for assessing the risk of bias in individual studies that were included in the review?", Guidance: "An appropriate tool such as RoB 2 or ROBINS-I should be used.", Critical: true},
			{ID: "sr_q10", Text: "Did the review authors report on the sources of funding for the studies included in the review?", Guidance: "Funding sources for included studies should be reported."},
			{ID: "sr_q11", Text: "If meta-analysis was performed, did the review authors use appropriate methods for statistical combination of results?", Guidance: "Model choice (fixed vs random effects) should be appropriate and justified.", Critical: true},
			{ID: "sr_q12", Text: "If meta-analysis was performed, did the review authors assess the potential impact of risk of bias in individual studies on the results of the meta-analysis or other evidence synthesis?", Guidance: "The impact of risk of bias on pooled results should be assessed.", Critical: true},
			{ID: "sr_q13", Text: "Did the review authors account for risk of bias in individual studies when interpreting/discussing the results of the review?", Guidance: "Risk of bias should inform the interpretation of results."},
			{ID: "sr_q14", Text: "Did the review authors provide a satisfactory explanation for, and discussion of, any heterogeneity observed in the results of the review?", Guidance: "Sources of heterogeneity should be investigated and discussed."},
			{ID: "sr_q15", Text: "If they performed quantitative synthesis, did the review authors carry out an adequate investigation of publication bias and discuss its likely impact on the results of the review?", Guidance: "Funnel plots or statistical tests where enough studies exist."},
			{ID: "sr_q16", Text: "Did the review authors report any potential sources of conflict of interest, including any funding they received for conducting the review?", Guidance: "Review funding and conflicts of interest should be reported."},
		},
	},
	DocRCT: {
		Name:      "Cochrane RoB 2 (Risk of Bias tool for randomized trials)",
		Judgments: "low risk/high risk/some concerns",
		Criteria: []Criterion{
			{ID: "rct_d1_1", Text: "Was the allocation sequence random?", Domain: "D1: Randomization process", Guidance: "Computer-generated random numbers or random number tables indicate adequate generation."},
			{ID: "rct_d1_2", Text: "Was the allocation sequence concealed until participants were enrolled and assigned to interventions?", Domain: "D1: Randomization process", Guidance: "Central allocation or sequentially numbered sealed envelopes indicate concealment."},
			{ID: "rct_d1_3", Text: "Were there baseline imbalances that suggest a problem with randomization?", Domain: "D1: Randomization process", Guidance: "Look for baseline characteristic imbalances indicating randomization failure."},
			{ID: "rct_d2_1", Text: "Were participants aware of their assigned intervention during the trial?", Domain: "D2: Deviations from intended interventions", Guidance: "Assess participant blinding."},
			{ID: "rct_d2_2", Text: "Were carers and people delivering the interventions aware of participants' assigned intervention during the trial?", Domain: "D2: Deviations from intended interventions", Guidance: "Assess care-provider blinding."},
			{ID: "rct_d2_3", Text: "Were there deviations from the intended intervention that arose because of the experimental context?", Domain: "D2: Deviations from intended interventions", Guidance: "Consider deviations that would not occur outside the trial."},
			{ID: "rct_d2_4", Text: "Was an appropriate analysis used to estimate the effect of assignment to intervention?", Domain: "D2: Deviations from intended interventions", Guidance: "Intention-to-treat analysis is expected for effect of assignment."},
			{ID: "rct_d3_1", Text: "Were data for this outcome available for all, or nearly all, participants randomized?", Domain: "D3: Missing outcome data", Guidance: "Assess completeness and balance of outcome data across groups."},
			{ID: "rct_d3_2", Text: "Is there evidence that the result was not biased by missing outcome data?", Domain: "D3: Missing outcome data", Guidance: "Consider whether missing data could change the observed effect."},
			{ID: "rct_d3_3", Text: "Could missingness in the outcome depend on its true value?", Domain: "D3: Missing outcome data", Guidance: "Assess whether reasons for missingness relate to the outcome."},
			{ID: "rct_d4_1", Text: "Was the method of measuring the outcome inappropriate?", Domain: "D4: Measurement of the outcome", Guidance: "The measurement method should be valid and reliable."},
			{ID: "rct_d4_2", Text: "Could measurement or ascertainment of the outcome have differed between intervention groups?", Domain: "D4: Measurement of the outcome", Guidance: "Outcome assessment should be identical across groups."},
			{ID: "rct_d4_3", Text: "Were outcome assessors aware of the intervention received by study participants?", Domain: "D4: Measurement of the outcome", Guidance: "Assess outcome-assessor blinding."},
			{ID: "rct_d4_4", Text: "Could assessment of the outcome have been influenced by knowledge of intervention received?", Domain: "D4: Measurement of the outcome", Guidance: "Subjective outcomes are vulnerable when assessors are unblinded."},
			{ID: "rct_d5_1", Text: "Were the data that produced this result analyzed in accordance with a pre-specified analysis plan?", Domain: "D5: Selection of the reported result", Guidance: "The analysis should match the protocol."},
			{ID: "rct_d5_2", Text: "Is the numerical result being assessed likely to have been selected, on the basis of the results, from multiple eligible outcome measurements?", Domain: "D5: Selection of the reported result", Guidance: "Watch for selective reporting of measurements or time points."},
			{ID: "rct_d5_3", Text: "Is the numerical result being assessed likely to have been selected, on the basis of the results, from multiple eligible analyses of the data?", Domain: "D5: Selection of the reported result", Guidance: "Watch for selective reporting of analyses."},
		},
	},
	DocCohort: {
		Name:      "Newcastle-Ottawa Scale (NOS) for Cohort Studies",
		Judgments: "star awarded/no star awarded",
		Criteria: []Criterion{
			{ID: "cs_s1", Text: "How representative was the exposed cohort?", Domain: "Selection", Guidance: "Truly or somewhat representative of the average exposed person in the community earns a star; selected groups or no description do not."},
			{ID: "cs_s2", Text: "How was the non-exposed cohort selected?", Domain: "Selection", Guidance: "Drawn from the same community as the exposed cohort earns a star."},
			{ID: "cs_s3", Text: "How was exposure ascertained?", Domain: "Selection", Guidance: "Secure records or structured interview earn a star; written self-report does not."},
			{ID: "cs_s4", Text: "Was the outcome of interest absent at the start of the study?", Domain: "Selection", Guidance: "Demonstration that the outcome was not present at baseline earns a star."},
			{ID: "cs_c1", Text: "Were the cohorts comparable on the basis of the design or analysis?", Domain: "Comparability", Guidance: "Control for the most important factor earns one star; a second factor earns another."},
			{ID: "cs_o1", Text: "How was the outcome assessed?", Domain: "Outcome", Guidance: "Independent blind assessment or record linkage earns a star; self-report does not."},
			{ID: "cs_o2", Text: "Was follow-up long enough for outcomes to occur?", Domain: "Outcome", Guidance: "Judge adequacy of follow-up length for the outcome of interest."},
			{ID: "cs_o3", Text: "Was follow-up of cohorts adequate?", Domain: "Outcome", Guidance: "Complete follow-up, or small losses unlikely to introduce bias, earn a star."},
		},
	},
	DocCaseControl: {
		Name:      "Newcastle-Ottawa Scale (NOS) for Case-Control Studies",
		Judgments: "star awarded/no star awarded",
		Criteria: []Criterion{
			{ID: "cc_s1", Text: "Is the case definition adequate?", Domain: "Selection", Guidance: "Independent validation of cases earns a star; record linkage or self-report does not."},
			{ID: "cc_s2", Text: "Are the cases representative?", Domain: "Selection", Guidance: "Consecutive or obviously representative series of cases earns a star."},
			{ID: "cc_s3", Text: "How were controls selected?", Domain: "Selection", Guidance: "Community controls earn a star; hospital controls do not."},
			{ID: "cc_s4", Text: "How were controls defined?", Domain: "Selection", Guidance: "Controls with no history of the outcome earn a star."},
			{ID: "cc_c1", Text: "Were cases and controls comparable on the basis of the design or analysis?", Domain: "Comparability", Guidance: "Control for the most important factor earns one star; a second factor earns another."},
			{ID: "cc_e1", Text: "How was exposure ascertained?", Domain: "Exposure", Guidance: "Secure records or blinded structured interview earn a star."},
			{ID: "cc_e2", Text: "Was the same method of ascertainment used for cases and controls?", Domain: "Exposure", Guidance: "Identical ascertainment across groups earns a star."},
			{ID: "cc_e3", Text: "What was the non-response rate?", Domain: "Exposure", Guidance: "Same rate for both groups earns a star."},
		},
	},
	DocCrossSectional: {
		Name:      "AXIS (Appraisal tool for Cross-Sectional Studies)",
		Judgments: "yes/no/unclear",
		Criteria: []Criterion{
			{ID: "ax_q1", Text: "Were the aims/objectives of the study clear?", Guidance: "Aims should be explicitly stated, usually at the end of the introduction."},
			{ID: "ax_q2", Text: "Was the study design appropriate for the stated aims?", Guidance: "A cross-sectional design should suit the research question."},
			{ID: "ax_q3", Text: "Was the sample size justified?", Guidance: "Look for a sample size or power calculation."},
			{ID: "ax_q4", Text: "Was the target/reference population clearly defined?", Guidance: "The population of interest should be explicit."},
			{ID: "ax_q5", Text: "Was the sample frame taken from an appropriate population base so that it closely represented the target population?", Guidance: "Assess representativeness of the sampling frame."},
			{ID: "ax_q6", Text: "Was the selection process likely to select participants that were representative of the target population?", Guidance: "Random or census selection is preferred over convenience sampling."},
			{ID: "ax_q7", Text: "Were measures undertaken to address and categorize non-responders?", Guidance: "Non-response should be described and handled."},
			{ID: "ax_q8", Text: "Were the risk factor and outcome variables measured appropriately to the aims of the study?", Guidance: "Measurements should match the stated aims."},
			{ID: "ax_q9", Text: "Were the risk factor and outcome variables measured using instruments/measurements that had been trialled, piloted or published previously?", Guidance: "Validated instruments are expected."},
			{ID: "ax_q10", Text: "Is it clear what was used to determine statistical significance and/or precision estimates?", Guidance: "P-values or confidence intervals should be defined."},
			{ID: "ax_q11", Text: "Were the basic data adequately described?", Guidance: "Participant characteristics and raw counts should be reported."},
			{ID: "ax_q12", Text: "Were the conclusions justified by the results?", Guidance: "Conclusions should not overreach the data."},
		},
	},
	DocDiagnostic: {
		Name:      "QUADAS-2 (Quality Assessment of Diagnostic Accuracy Studies)",
		Judgments: "low risk/high risk/unclear",
		Criteria: []Criterion{
			{ID: "ds_d1_rb1", Text: "Was a consecutive or random sample of patients enrolled?", Domain: "D1: Patient Selection - Risk of Bias", Guidance: "Consecutive or random sampling reduces selection bias."},
			{ID: "ds_d1_rb2", Text: "Was a case-control design avoided?", Domain: "D1: Patient Selection - Risk of Bias", Guidance: "Case-control designs can overestimate diagnostic accuracy."},
			{ID: "ds_d1_rb3", Text: "Did the study avoid inappropriate exclusions?", Domain: "D1: Patient Selection - Risk of Bias", Guidance: "Exclusions should be described and appropriate."},
			{ID: "ds_d1_ac1", Text: "Are there concerns that the included patients and setting do not match the review question?", Domain: "D1: Patient Selection - Applicability", Guidance: "Patients and setting should match the intended use."},
			{ID: "ds_d2_rb1", Text: "Were the index test results interpreted without knowledge of the results of the reference standard?", Domain: "D2: Index Test - Risk of Bias", Guidance: "Blinded interpretation avoids review bias."},
			{ID: "ds_d2_rb2", Text: "If a threshold was used, was it pre-specified?", Domain: "D2: Index Test - Risk of Bias", Guidance: "Data-driven thresholds inflate accuracy."},
			{ID: "ds_d2_ac1", Text: "Are there concerns that the index test, its conduct, or interpretation differ from the review question?", Domain: "D2: Index Test - Applicability", Guidance: "The test should be performed as in practice."},
			{ID: "ds_d3_rb1", Text: "Is the reference standard likely to correctly classify the target condition?", Domain: "D3: Reference Standard - Risk of Bias", Guidance: "The best available method should establish the condition."},
			{ID: "ds_d3_rb2", Text: "Were the reference standard results interpreted without knowledge of the results of the index test?", Domain: "D3: Reference Standard - Risk of Bias", Guidance: "Blinded interpretation avoids incorporation bias."},
			{ID: "ds_d3_ac1", Text: "Are there concerns that the target condition as defined by the reference standard does not match the question?", Domain: "D3: Reference Standard - Applicability", Guidance: "The reference standard should define the same condition."},
			{ID: "ds_d4_rb1", Text: "Was there an appropriate interval between index test and reference standard?", Domain: "D4: Flow and Timing - Risk of Bias", Guidance: "The condition should be unlikely to change between tests."},
			{ID: "ds_d4_rb2", Text: "Did all patients receive the same reference standard?", Domain: "D4: Flow and Timing - Risk of Bias", Guidance: "Differential verification introduces bias."},
			{ID: "ds_d4_rb3", Text: "Were all patients included in the analysis?", Domain: "D4: Flow and Timing - Risk of Bias", Guidance: "Withdrawals should be explained."},
		},
	},
	DocQualitative: {
		Name:      "CASP Qualitative Research Checklist",
		Judgments: "yes/no/unclear",
		Criteria: []Criterion{
			{ID: "ql_q1", Text: "Was there a clear statement of the aims of the research?", Guidance: "Goal, importance, and relevance should be stated."},
			{ID: "ql_q2", Text: "Is a qualitative methodology appropriate?", Guidance: "The research should seek to interpret subjective experience."},
			{ID: "ql_q3", Text: "Was the research design appropriate to address the aims of the research?", Guidance: "The design choice should be justified."},
			{ID: "ql_q4", Text: "Was the recruitment strategy appropriate to the aims of the research?", Guidance: "Participant selection should be explained."},
			{ID: "ql_q5", Text: "Was the data collected in a way that addressed the research issue?", Guidance: "Setting, method, and saturation should be described."},
			{ID: "ql_q6", Text: "Has the relationship between researcher and participants been adequately considered?", Guidance: "Reflexivity should be addressed."},
			{ID: "ql_q7", Text: "Have ethical issues been taken into consideration?", Guidance: "Consent, confidentiality, and approval should be described."},
			{ID: "ql_q8", Text: "Was the data analysis sufficiently rigorous?", Guidance: "The analysis process and contradictory data should be described."},
			{ID: "ql_q9", Text: "Is there a clear statement of findings?", Guidance: "Findings should be explicit and discussed against the research question."},
			{ID: "ql_q10", Text: "How valuable is the research?", Guidance: "Contribution to existing knowledge and transferability should be discussed."},
		},
	},
	DocEconomic: {
		Name:      "CHEERS 2022 (Consolidated Health Economic Evaluation Reporting Standards)",
		Judgments: "fully reported/partially reported/not reported",
		Criteria: []Criterion{
			{ID: "ec_q1", Text: "Is the study identified as an economic evaluation and are the interventions compared described?", Guidance: "Title and abstract should identify the evaluation and comparators."},
			{ID: "ec_q2", Text: "Is the context for the study and the study question stated?", Guidance: "Background and question should be explicit."},
			{ID: "ec_q3", Text: "Are the health economic analysis plan and perspective reported?", Guidance: "Look for an analysis plan and the adopted perspective."},
			{ID: "ec_q4", Text: "Are the setting, location, and population characterized?", Guidance: "Setting and population should be described."},
			{ID: "ec_q5", Text: "Are the time horizon and discount rate reported and justified?", Guidance: "Horizon and discounting should be stated with rationale."},
			{ID: "ec_q6", Text: "Are the measurement and valuation of outcomes described?", Guidance: "Outcome selection, measurement, and valuation should be reported."},
			{ID: "ec_q7", Text: "Are the costing methods and currency/price date reported?", Guidance: "Resource quantities, unit costs, currency, and price year should be reported."},
			{ID: "ec_q8", Text: "Are the analytic methods, including uncertainty characterization, described?", Guidance: "Model, assumptions, and sensitivity analyses should be reported."},
			{ID: "ec_q9", Text: "Are conflicts of interest and funding sources reported?", Guidance: "Funding and conflicts should be disclosed."},
		},
	},
	DocAnimal: {
		Name:      "ARRIVE 2.0 (Animal Research: Reporting of In Vivo Experiments)",
		Judgments: "yes/partial yes/no",
		Criteria: []Criterion{
			{ID: "an_q1", Text: "Are the study design and experimental groups described?", Guidance: "Groups, experimental unit, and design should be explicit."},
			{ID: "an_q2", Text: "Is the sample size and how it was decided reported?", Guidance: "Total and per-group numbers with a sample size rationale."},
			{ID: "an_q3", Text: "Are inclusion/exclusion criteria and animal attrition reported?", Guidance: "Exclusion criteria and any excluded animals or data points."},
			{ID: "an_q4", Text: "Is randomisation to experimental groups described?", Guidance: "Allocation method and any strategies to minimise confounders."},
			{ID: "an_q5", Text: "Is blinding of experimenters and outcome assessors described?", Guidance: "Who was aware of allocation at each stage."},
			{ID: "an_q6", Text: "Are the outcome measures clearly defined?", Guidance: "All assessed outcomes, with the primary outcome identified."},
			{ID: "an_q7", Text: "Are the statistical methods described in detail?", Guidance: "Methods per analysis and assessment of assumptions."},
			{ID: "an_q8", Text: "Are the experimental animals adequately described?", Guidance: "Species, strain, sex, age/weight, and source."},
			{ID: "an_q9", Text: "Are the experimental procedures described in enough detail to be replicated?", Guidance: "What, when, where, why, and how for each procedure."},
			{ID: "an_q10", Text: "Are results reported with a measure of precision?", Guidance: "Effect sizes with confidence intervals where applicable."},
		},
	},
}

// ToolFor returns the appraisal tool for a document type
func ToolFor(documentType DocumentType) (Tool, bool) {
	tool, ok := toolCatalog[documentType]
	return tool, ok
}

// SupportedTypes returns the document types with a catalog entry
func SupportedTypes() []DocumentType {
	return []DocumentType{
		DocRCT, DocSystematicReview, DocCohort, DocCaseControl,
		DocCrossSectional, DocDiagnostic, DocQualitative, DocEconomic, DocAnimal,
	}
}
